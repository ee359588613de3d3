package mqtt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/zap"

	"github.com/bizflycloud/mqttcd/pkg/broker"
)

const (
	DefaultPort = 1883

	ProtocolV31  byte = 3
	ProtocolV311 byte = 4

	defaultKeepAlive        = 60 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultRetryInterval    = 500 * time.Millisecond
	writeTimeout            = 5 * time.Second

	// DefaultMaxPacketSize bounds the remaining length of inbound packets.
	DefaultMaxPacketSize = 256 << 10

	subackFailure byte = 0x80
)

var _ broker.Transport = (*Transport)(nil)

// ErrRefused is returned when the broker rejects CONNECT or SUBSCRIBE.
var ErrRefused = errors.New("refused by broker")

// Transport implements broker.Transport over a plain TCP connection, using
// paho packets for the wire format.
type Transport struct {
	addr             string
	version          byte
	clientID         string
	username         string
	password         string
	keepalive        time.Duration
	connectRetries   int
	retryInterval    time.Duration
	handshakeTimeout time.Duration
	maxPacketSize    int
	dial             func(ctx context.Context, network, addr string) (net.Conn, error)
	logger           *zap.Logger

	conn      net.Conn
	r         *bufio.Reader
	nextID    uint16
	inbound   chan inbound
	done      chan struct{}
	readerOn  sync.Once
	closeOnce sync.Once
	readErr   error
}

type inbound struct {
	frame broker.Frame
	err   error
}

// NewTransport creates new mqtt transport.
func NewTransport(opts ...Option) (*Transport, error) {
	t := &Transport{
		version:          ProtocolV311,
		keepalive:        defaultKeepAlive,
		handshakeTimeout: defaultHandshakeTimeout,
		retryInterval:    defaultRetryInterval,
		maxPacketSize:    DefaultMaxPacketSize,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if t.addr == "" {
		return nil, errors.New("no broker address provided")
	}
	if t.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		t.logger = l
	}
	if t.dial == nil {
		d := &net.Dialer{Timeout: t.handshakeTimeout}
		t.dial = d.DialContext
	}
	t.done = make(chan struct{})
	t.inbound = make(chan inbound)
	return t, nil
}

func protocolName(version byte) string {
	if version == ProtocolV31 {
		return "MQIsdp"
	}
	return "MQTT"
}

func (t *Transport) Connect(ctx context.Context) error {
	if t.conn != nil {
		return errors.New("already connected")
	}
	conn, err := t.dialWithRetry(ctx)
	if err != nil {
		return err
	}
	t.conn = conn
	t.r = bufio.NewReader(conn)

	cp := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	cp.ProtocolName = protocolName(t.version)
	cp.ProtocolVersion = t.version
	cp.CleanSession = true
	cp.ClientIdentifier = t.clientID
	cp.Keepalive = uint16(t.keepalive / time.Second)
	if t.username != "" {
		cp.UsernameFlag = true
		cp.Username = t.username
		if t.password != "" {
			cp.PasswordFlag = true
			cp.Password = []byte(t.password)
		}
	}
	if err := t.write(cp); err != nil {
		return err
	}

	f, err := t.awaitHandshake(ctx, packets.Connack)
	if err != nil {
		return err
	}
	p, err := unpack(f)
	if err != nil {
		return err
	}
	ack := p.(*packets.ConnackPacket)
	if ack.ReturnCode != packets.Accepted {
		return fmt.Errorf("connect: %w: %s", ErrRefused, packets.ConnackReturnCodes[ack.ReturnCode])
	}
	t.logger.Info("Connected to broker", zap.String("addr", t.addr), zap.String("client_id", t.clientID))
	return nil
}

func (t *Transport) dialWithRetry(ctx context.Context) (net.Conn, error) {
	if t.connectRetries == 0 {
		return t.dial(ctx, "tcp", t.addr)
	}

	var conn net.Conn
	op := func() error {
		c, err := t.dial(ctx, "tcp", t.addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.retryInterval
	// the retry count is the only bound
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(t.connectRetries)), ctx)
	notify := func(err error, d time.Duration) {
		t.logger.Warn("Dial broker failed, retrying", zap.Error(err), zap.Duration("retry_in", d))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *Transport) Subscribe(ctx context.Context, topic string, qos byte) error {
	if t.conn == nil {
		return broker.ErrNoConnection
	}
	if topic == "" {
		return errors.New("no topic provided")
	}
	if qos > 1 {
		return fmt.Errorf("unsupported qos %d", qos)
	}

	sp := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	sp.MessageID = t.messageID()
	sp.Topics = []string{topic}
	sp.Qoss = []byte{qos}
	if err := t.write(sp); err != nil {
		return err
	}

	f, err := t.awaitHandshake(ctx, packets.Suback)
	if err != nil {
		return err
	}
	p, err := unpack(f)
	if err != nil {
		return err
	}
	ack := p.(*packets.SubackPacket)
	if ack.MessageID != sp.MessageID {
		return fmt.Errorf("suback for message id %d, want %d", ack.MessageID, sp.MessageID)
	}
	if len(ack.ReturnCodes) != 1 || ack.ReturnCodes[0] == subackFailure {
		return fmt.Errorf("subscribe %q: %w", topic, ErrRefused)
	}
	t.logger.Info("Subscribed to topic", zap.String("topic", topic), zap.Uint8("granted_qos", ack.ReturnCodes[0]))
	return nil
}

func (t *Transport) messageID() uint16 {
	t.nextID++
	if t.nextID == 0 {
		t.nextID = 1
	}
	return t.nextID
}

// awaitHandshake reads frames synchronously until one of type want arrives.
// It must not be called once the reader goroutine runs.
func (t *Transport) awaitHandshake(ctx context.Context, want byte) (broker.Frame, error) {
	deadline := time.Now().Add(t.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return broker.Frame{}, err
	}

	// cancelling ctx expires the read deadline to unblock readFrame
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			_ = t.conn.SetReadDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-stopped
		_ = t.conn.SetReadDeadline(time.Time{})
	}()

	for {
		f, err := readFrame(t.r, t.maxPacketSize)
		if err != nil {
			if ctx.Err() != nil {
				return broker.Frame{}, ctx.Err()
			}
			return broker.Frame{}, err
		}
		if f.Type == want {
			return f, nil
		}
		t.logger.Debug("Skip packet during handshake",
			zap.String("got", packets.PacketNames[f.Type]),
			zap.String("want", packets.PacketNames[want]))
	}
}

func (t *Transport) startReader() {
	go func() {
		for {
			f, err := readFrame(t.r, t.maxPacketSize)
			select {
			case t.inbound <- inbound{frame: f, err: err}:
			case <-t.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

func (t *Transport) Receive(timeout time.Duration) (broker.Frame, error) {
	if t.conn == nil {
		return broker.Frame{}, broker.ErrNoConnection
	}
	if t.readErr != nil {
		return broker.Frame{}, t.readErr
	}
	t.readerOn.Do(t.startReader)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case in := <-t.inbound:
		if in.err != nil {
			t.readErr = in.err
		}
		return in.frame, in.err
	case <-timer.C:
		return broker.Frame{}, broker.ErrTimeout
	case <-t.done:
		return broker.Frame{}, broker.ErrNoConnection
	}
}

func (t *Transport) Ping() error {
	return t.write(packets.NewControlPacket(packets.Pingreq))
}

func (t *Transport) Ack(messageID uint16) error {
	pa := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	pa.MessageID = messageID
	return t.write(pa)
}

func (t *Transport) Disconnect() error {
	return t.write(packets.NewControlPacket(packets.Disconnect))
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *Transport) write(p packets.ControlPacket) error {
	if t.conn == nil {
		return broker.ErrNoConnection
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return p.Write(t.conn)
}

func (t *Transport) String() string {
	return fmt.Sprintf("Transport [%s@%s]", t.clientID, t.addr)
}
