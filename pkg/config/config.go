// Package config resolves the daemon configuration from flags, environment
// and config file into an immutable Config value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// HandlerMode selects what happens to received messages.
type HandlerMode string

const (
	// HandlerNop drops messages.
	HandlerNop HandlerMode = "nop"
	// HandlerString passes the payload to the handler program as a string argument.
	HandlerString HandlerMode = "string"
)

// Keys shared by flags, environment and config file.
const (
	KeyHost           = "host"
	KeyPort           = "port"
	KeyVersion        = "version"
	KeyClientID       = "client_id"
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyTopic          = "topic"
	KeyQoS            = "qos"
	KeyDaemonize      = "daemonize"
	KeyHandler        = "handler"
	KeyHandlerDir     = "handler_dir"
	KeyHandlerName    = "handler_name"
	KeyMaxHandlers    = "max_handlers"
	KeyReceiveTimeout = "receive_timeout"
	KeyPingThreshold  = "ping_threshold"
	KeyKeepAlive      = "keepalive"
	KeyConnectRetries = "connect_retries"
	KeyMaxPacketSize  = "max_packet_size"
	KeyStatusAddr     = "status_addr"
	KeyStatsInterval  = "stats_interval"
	KeyLogFile        = "log_file"
)

const (
	DefaultPort           = 1883
	DefaultVersion        = 4
	DefaultHandlerDir     = "./handlers"
	DefaultHandlerName    = "default"
	DefaultReceiveTimeout = time.Second
	DefaultPingThreshold  = 30
	DefaultKeepAlive      = 60 * time.Second
	DefaultMaxPacketSize  = 256 << 10

	// maxClientIDLength is the client identifier length every 3.1.1 broker must accept.
	maxClientIDLength = 23
)

// Config is the resolved daemon configuration. It is built once at startup
// and passed by value.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Version  int    `yaml:"version"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`

	Daemonize bool `yaml:"daemonize"`

	Handler     HandlerMode `yaml:"handler"`
	HandlerDir  string      `yaml:"handler_dir"`
	HandlerName string      `yaml:"handler_name"`
	MaxHandlers int         `yaml:"max_handlers"`

	// PingThreshold counts consecutive receive timeouts, so a ping goes out
	// every (PingThreshold+1) * ReceiveTimeout of inbound silence.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	PingThreshold  int           `yaml:"ping_threshold"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	ConnectRetries int           `yaml:"connect_retries"`
	MaxPacketSize  int           `yaml:"max_packet_size"`

	StatusAddr    string        `yaml:"status_addr"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	LogFile       string        `yaml:"log_file"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyVersion, DefaultVersion)
	v.SetDefault(KeyHandler, string(HandlerNop))
	v.SetDefault(KeyHandlerDir, DefaultHandlerDir)
	v.SetDefault(KeyHandlerName, DefaultHandlerName)
	v.SetDefault(KeyReceiveTimeout, DefaultReceiveTimeout)
	v.SetDefault(KeyPingThreshold, DefaultPingThreshold)
	v.SetDefault(KeyKeepAlive, DefaultKeepAlive)
	v.SetDefault(KeyMaxPacketSize, DefaultMaxPacketSize)
}

// Load builds a Config from v and fills derived defaults. The result is not validated.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Host:           v.GetString(KeyHost),
		Port:           v.GetInt(KeyPort),
		Version:        v.GetInt(KeyVersion),
		ClientID:       v.GetString(KeyClientID),
		Username:       v.GetString(KeyUsername),
		Password:       v.GetString(KeyPassword),
		Topic:          v.GetString(KeyTopic),
		QoS:            v.GetInt(KeyQoS),
		Daemonize:      v.GetBool(KeyDaemonize),
		Handler:        HandlerMode(v.GetString(KeyHandler)),
		HandlerDir:     v.GetString(KeyHandlerDir),
		HandlerName:    v.GetString(KeyHandlerName),
		MaxHandlers:    v.GetInt(KeyMaxHandlers),
		ReceiveTimeout: v.GetDuration(KeyReceiveTimeout),
		PingThreshold:  v.GetInt(KeyPingThreshold),
		KeepAlive:      v.GetDuration(KeyKeepAlive),
		ConnectRetries: v.GetInt(KeyConnectRetries),
		MaxPacketSize:  v.GetInt(KeyMaxPacketSize),
		StatusAddr:     v.GetString(KeyStatusAddr),
		StatsInterval:  v.GetDuration(KeyStatsInterval),
		LogFile:        v.GetString(KeyLogFile),
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID()
	}
	if c.HandlerDir != "" {
		dir, err := filepath.Abs(c.HandlerDir)
		if err != nil {
			return Config{}, fmt.Errorf("resolve handler_dir: %w", err)
		}
		c.HandlerDir = dir
	}
	return c, nil
}

// DefaultClientID derives a client identifier from the process id and host name.
func DefaultClientID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "empty"
	}
	id := fmt.Sprintf("mqttcd/%d-%s", os.Getpid(), hostname)
	if len(id) > maxClientIDLength {
		id = id[:maxClientIDLength]
	}
	return id
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Topic == "":
		return errors.New("topic is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.Version != 3 && c.Version != 4:
		return fmt.Errorf("unsupported protocol version %d, want 3 or 4", c.Version)
	case c.QoS != 0 && c.QoS != 1:
		return fmt.Errorf("unsupported qos %d, want 0 or 1", c.QoS)
	case c.Handler != HandlerNop && c.Handler != HandlerString:
		return fmt.Errorf("unknown handler %q, want %q or %q", c.Handler, HandlerNop, HandlerString)
	case c.HandlerEnabled() && c.HandlerDir == "":
		return errors.New("handler_dir is required")
	case c.HandlerEnabled() && c.HandlerName == "":
		return errors.New("handler_name is required")
	case c.MaxHandlers < 0:
		return fmt.Errorf("invalid max_handlers %d", c.MaxHandlers)
	case c.ReceiveTimeout <= 0:
		return fmt.Errorf("receive_timeout must be positive, got %s", c.ReceiveTimeout)
	case c.PingThreshold < 0:
		return fmt.Errorf("invalid ping_threshold %d", c.PingThreshold)
	case c.KeepAlive < 0 || c.KeepAlive/time.Second > 0xffff:
		return fmt.Errorf("keepalive %s out of range", c.KeepAlive)
	case c.ConnectRetries < 0:
		return fmt.Errorf("invalid connect_retries %d", c.ConnectRetries)
	case c.MaxPacketSize < 0:
		return fmt.Errorf("invalid max_packet_size %d", c.MaxPacketSize)
	case c.StatsInterval < 0:
		return fmt.Errorf("invalid stats_interval %s", c.StatsInterval)
	}
	return nil
}

// HandlerEnabled reports whether messages are passed to a handler program.
func (c Config) HandlerEnabled() bool {
	return c.Handler == HandlerString
}

// PingInterval is the inbound silence after which a ping is sent.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.PingThreshold+1) * c.ReceiveTimeout
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}
