package broker

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Transport.Receive when no packet arrived in time.
var ErrTimeout = errors.New("receive timed out")

// ErrNoConnection is returned when an operation needs an established connection.
var ErrNoConnection = errors.New("no connection to broker server")

// Transport is the single connection to the broker used by the session loop.
// It is owned by one goroutine and is not safe for concurrent use.
type Transport interface {
	// Connect dials the broker and performs the CONNECT/CONNACK handshake.
	Connect(ctx context.Context) error
	// Subscribe performs the SUBSCRIBE/SUBACK handshake for one topic.
	Subscribe(ctx context.Context, topic string, qos byte) error
	// Receive blocks up to timeout for one inbound frame.
	Receive(timeout time.Duration) (Frame, error)
	Ping() error
	Ack(messageID uint16) error
	Disconnect() error
	Close() error
	String() string
}

// Frame is a raw inbound control packet.
type Frame struct {
	// Type is the MQTT control packet type (upper nibble of the first byte).
	Type byte
	// Flags is the lower nibble of the first byte.
	Flags byte
	Body  []byte

	// Discarded is the length of a body that exceeded the size limit and was
	// skipped. Body is empty then.
	Discarded int
}

// DecodeFunc turns a publish frame into an Event.
type DecodeFunc func(f Frame) (Event, error)

// Event is an inbound application message.
type Event struct {
	Topic     string
	Payload   []byte
	MessageID uint16
	Qos       byte
	Duplicate bool
	Retained  bool
	ArrivedAt time.Time
}
