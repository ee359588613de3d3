package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(values map[string]interface{}) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(newViper(map[string]interface{}{
		KeyHost:  "localhost",
		KeyTopic: "sensors/temp",
	}))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 1883, c.Port)
	assert.Equal(t, 4, c.Version)
	assert.Equal(t, HandlerNop, c.Handler)
	assert.False(t, c.HandlerEnabled())
	assert.Equal(t, "default", c.HandlerName)
	assert.True(t, filepath.IsAbs(c.HandlerDir))
	assert.Equal(t, "handlers", filepath.Base(c.HandlerDir))
	assert.Equal(t, time.Second, c.ReceiveTimeout)
	assert.Equal(t, 30, c.PingThreshold)
	assert.Equal(t, 31*time.Second, c.PingInterval())
	assert.Equal(t, 0, c.ConnectRetries)
	assert.Equal(t, 256<<10, c.MaxPacketSize)
	assert.Empty(t, c.Username)
	assert.Empty(t, c.Password)
	assert.True(t, strings.HasPrefix(c.ClientID, "mqttcd/"))
	assert.LessOrEqual(t, len(c.ClientID), 23)
}

func TestLoadFromConfigFile(t *testing.T) {
	v := newViper(nil)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
host: broker.local
port: 8883
topic: sensors/#
client_id: probe-1
handler: string
handler_dir: /opt/mqttcd
handler_name: store
receive_timeout: 500ms
ping_threshold: 4
`)))

	c, err := Load(v)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "broker.local", c.Host)
	assert.Equal(t, 8883, c.Port)
	assert.Equal(t, "probe-1", c.ClientID)
	assert.True(t, c.HandlerEnabled())
	assert.Equal(t, "/opt/mqttcd", c.HandlerDir)
	assert.Equal(t, "store", c.HandlerName)
	assert.Equal(t, 2500*time.Millisecond, c.PingInterval())
}

func TestValidate(t *testing.T) {
	valid := Config{
		Host:           "localhost",
		Port:           1883,
		Version:        4,
		Topic:          "t",
		Handler:        HandlerString,
		HandlerDir:     "/opt/handlers",
		HandlerName:    "default",
		ReceiveTimeout: time.Second,
		PingThreshold:  4,
		KeepAlive:      time.Minute,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"missing topic", func(c *Config) { c.Topic = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"bad version", func(c *Config) { c.Version = 5 }},
		{"qos 2", func(c *Config) { c.QoS = 2 }},
		{"unknown handler", func(c *Config) { c.Handler = "lua" }},
		{"missing handler dir", func(c *Config) { c.HandlerDir = "" }},
		{"missing handler name", func(c *Config) { c.HandlerName = "" }},
		{"negative max handlers", func(c *Config) { c.MaxHandlers = -1 }},
		{"zero receive timeout", func(c *Config) { c.ReceiveTimeout = 0 }},
		{"negative ping threshold", func(c *Config) { c.PingThreshold = -1 }},
		{"keepalive too large", func(c *Config) { c.KeepAlive = 20 * time.Hour }},
		{"negative retries", func(c *Config) { c.ConnectRetries = -1 }},
		{"negative max packet size", func(c *Config) { c.MaxPacketSize = -1 }},
		{"negative stats interval", func(c *Config) { c.StatsInterval = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	nop := valid
	nop.Handler = HandlerNop
	nop.HandlerDir = ""
	assert.NoError(t, nop.Validate(), "handler settings are unused when disabled")
}

func TestRedacted(t *testing.T) {
	c := Config{Password: "secret"}
	assert.Equal(t, "********", c.Redacted().Password)
	assert.Equal(t, "secret", c.Password)
	assert.Empty(t, Config{}.Redacted().Password)
}
