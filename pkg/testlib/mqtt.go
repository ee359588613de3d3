package testlib

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/ory/dockertest/v3"
)

const tokenWaitTimeout = 5 * time.Second

// MqttUrl returns the url of a broker usable by integration tests. MQTT_URL
// takes precedence; otherwise a mosquitto container is started and purged when
// the test ends. The test is skipped when no broker can be provided.
func MqttUrl(t *testing.T) string {
	t.Helper()
	if testing.Short() || os.Getenv("EXCLUDE_MQTT") != "" {
		t.Skip("skipping broker integration test")
	}
	if u := os.Getenv("MQTT_URL"); u != "" {
		return u
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("Could not connect to docker: %s", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("Docker is not reachable: %s", err)
	}
	resource, err := pool.Run("eclipse-mosquitto", "1.6", nil)
	if err != nil {
		t.Skipf("Could not start resource: %s", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("Could not purge resource: %s", err)
		}
	})

	hostPort := resource.GetHostPort("1883/tcp")
	pool.MaxWait = 30 * time.Second
	if err := pool.Retry(func() error {
		conn, err := net.Dial("tcp", hostPort)
		if err != nil {
			return err
		}
		return conn.Close()
	}); err != nil {
		t.Fatalf("Broker did not come up: %s", err)
	}
	return "mqtt://" + hostPort
}

// Publish sends each payload to topic at QoS 1 using the paho client.
func Publish(t *testing.T, mqttURL, topic string, payloads ...string) {
	t.Helper()
	u, err := url.Parse(mqttURL)
	if err != nil {
		t.Fatal(err)
	}
	opts := paho.NewClientOptions()
	opts.AddBroker("tcp://" + u.Host)
	opts.SetClientID(fmt.Sprintf("publisher-%d", time.Now().UnixNano()))
	opts.SetUsername(u.User.Username())
	if p, ok := u.User.Password(); ok {
		opts.SetPassword(p)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(tokenWaitTimeout) || token.Error() != nil {
		t.Fatalf("publisher connect failed: %v", token.Error())
	}
	defer client.Disconnect(250)

	for _, p := range payloads {
		token := client.Publish(topic, 1, false, p)
		if !token.WaitTimeout(tokenWaitTimeout) || token.Error() != nil {
			t.Fatalf("publish to %s failed: %v", topic, token.Error())
		}
	}
}
