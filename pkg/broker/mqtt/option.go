package mqtt

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Option func(t *Transport) error

// WithURL returns an Option which set the broker address and credentials from url.
func WithURL(u string) Option {
	return func(t *Transport) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		port := uri.Port()
		if port == "" {
			port = strconv.Itoa(DefaultPort)
		}
		t.addr = net.JoinHostPort(uri.Hostname(), port)
		if name := uri.User.Username(); name != "" {
			t.username = name
		}
		if p, isSet := uri.User.Password(); isSet {
			t.password = p
		}
		return nil
	}
}

// WithAddress returns an Option which set the broker host and port.
func WithAddress(host string, port int) Option {
	return func(t *Transport) error {
		if host == "" {
			return errors.New("empty broker host")
		}
		if port <= 0 || port > 65535 {
			return errors.New("invalid broker port " + strconv.Itoa(port))
		}
		t.addr = net.JoinHostPort(host, strconv.Itoa(port))
		return nil
	}
}

// WithClientID returns an Option which set the broker client id.
func WithClientID(id string) Option {
	return func(t *Transport) error {
		t.clientID = id
		return nil
	}
}

// WithCredentials returns an Option which set username and password sent in CONNECT.
func WithCredentials(username, password string) Option {
	return func(t *Transport) error {
		t.username = username
		t.password = password
		return nil
	}
}

// WithProtocolVersion returns an Option which set the MQTT protocol level, 3 (3.1) or 4 (3.1.1).
func WithProtocolVersion(v byte) Option {
	return func(t *Transport) error {
		if v != ProtocolV31 && v != ProtocolV311 {
			return errors.New("unsupported protocol version " + strconv.Itoa(int(v)))
		}
		t.version = v
		return nil
	}
}

// WithKeepAlive returns an Option which set the keepalive advertised to the broker.
func WithKeepAlive(d time.Duration) Option {
	return func(t *Transport) error {
		if d < 0 || d/time.Second > 0xffff {
			return errors.New("keepalive out of range")
		}
		t.keepalive = d
		return nil
	}
}

// WithConnectRetries returns an Option which set how many times a failed dial is retried.
func WithConnectRetries(n int) Option {
	return func(t *Transport) error {
		if n < 0 {
			return errors.New("negative connect retries")
		}
		t.connectRetries = n
		return nil
	}
}

// WithRetryInterval returns an Option which set the delay before the first dial retry.
func WithRetryInterval(d time.Duration) Option {
	return func(t *Transport) error {
		if d <= 0 {
			return errors.New("retry interval must be positive")
		}
		t.retryInterval = d
		return nil
	}
}

// WithMaxPacketSize returns an Option which set the largest inbound packet body
// accepted, 0 means the protocol limit.
func WithMaxPacketSize(n int) Option {
	return func(t *Transport) error {
		if n < 0 {
			return errors.New("negative max packet size")
		}
		t.maxPacketSize = n
		return nil
	}
}

// WithHandshakeTimeout returns an Option which bound the dial and CONNACK/SUBACK waits.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) error {
		t.handshakeTimeout = d
		return nil
	}
}

// WithDialer returns an Option which replace the network dialer.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(t *Transport) error {
		t.dial = dial
		return nil
	}
}

// WithLogger returns an Option which set the logger for Transport.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) error {
		t.logger = logger
		return nil
	}
}
