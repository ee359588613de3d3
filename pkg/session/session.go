// Package session drives the single broker connection: connect, subscribe,
// receive with timeout-counted keepalive, dispatch to the handler and
// disconnect.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/bizflycloud/mqttcd/pkg/broker"
	"github.com/bizflycloud/mqttcd/pkg/config"
	"github.com/bizflycloud/mqttcd/pkg/handler"
	"github.com/bizflycloud/mqttcd/pkg/shutdown"
)

// State is a step of the session lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateSubscribing   State = "subscribing"
	StateReceiving     State = "receiving"
	StateDisconnecting State = "disconnecting"
	StateClosed        State = "closed"
)

// Session owns the transport for the lifetime of the process.
type Session struct {
	cfg       config.Config
	transport broker.Transport
	decode    broker.DecodeFunc
	launcher  handler.Launcher
	signal    *shutdown.Signal
	logger    *zap.Logger

	// timeouts counts consecutive receive timeouts since the last receive or ping.
	timeouts int

	state     atomic.String
	stats     stats
	startedAt time.Time
}

// New creates a session for cfg over t. The handler is only used when cfg
// enables it.
func New(cfg config.Config, t broker.Transport, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, errors.New("no transport provided")
	}
	s := &Session{cfg: cfg, transport: t}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.decode == nil {
		return nil, errors.New("no decoder provided")
	}
	if cfg.HandlerEnabled() && s.launcher == nil {
		return nil, errors.New("handler enabled without launcher")
	}
	if !cfg.HandlerEnabled() {
		s.launcher = nil
	}
	if s.signal == nil {
		s.signal = shutdown.New()
	}
	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	s.state.Store(string(StateIdle))
	s.startedAt = time.Now()
	return s, nil
}

// State returns the current lifecycle step.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(string(st))
	s.logger.Debug("Session state", zap.String("state", string(st)))
}

// Run connects and processes messages until the shutdown signal is observed
// or the transport fails. It returns nil on voluntary shutdown, a
// *ConnectionError if the session could not be established and a
// *TransportError if it broke afterwards. ctx bounds connection setup only,
// and the shutdown signal cancels it.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosed)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.signal.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.connect(ctx); err != nil {
		s.setState(StateDisconnecting)
		s.close()
		if s.signal.Triggered() {
			s.logger.Info("Shutdown requested while connecting", zap.Error(err))
			return nil
		}
		return err
	}
	cancel()

	s.setState(StateReceiving)
	err := s.loop()

	s.setState(StateDisconnecting)
	if err == nil {
		if derr := s.transport.Disconnect(); derr != nil {
			s.logger.Warn("Send disconnect failed", zap.Error(derr))
		}
	} else {
		s.logger.Error("Session terminated", zap.Error(err))
	}
	s.close()
	return err
}

func (s *Session) connect(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.transport.Connect(ctx); err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	s.setState(StateSubscribing)
	if err := s.transport.Subscribe(ctx, s.cfg.Topic, byte(s.cfg.QoS)); err != nil {
		return &ConnectionError{Op: "subscribe", Err: err}
	}
	s.logger.Info("Session established",
		zap.String("topic", s.cfg.Topic),
		zap.Duration("ping_interval", s.cfg.PingInterval()))
	return nil
}

func (s *Session) close() {
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("Close transport", zap.Error(err))
	}
}

func (s *Session) loop() error {
	for !s.signal.Triggered() {
		if err := s.receiveOnce(); err != nil {
			return err
		}
	}
	s.logger.Info("Shutdown requested, leaving receive loop")
	return nil
}

func (s *Session) receiveOnce() error {
	f, err := s.transport.Receive(s.cfg.ReceiveTimeout)
	if errors.Is(err, broker.ErrTimeout) {
		return s.keepalive()
	}
	if err != nil {
		return &TransportError{Op: "receive", Err: err}
	}
	s.timeouts = 0

	if f.Type != packets.Publish {
		s.logger.Debug("Ignore packet", zap.String("type", packets.PacketNames[f.Type]))
		return nil
	}
	return s.dispatch(f)
}

func (s *Session) keepalive() error {
	s.timeouts++
	if s.timeouts <= s.cfg.PingThreshold {
		return nil
	}
	if err := s.transport.Ping(); err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	s.timeouts = 0
	s.stats.pings.Inc()
	s.logger.Debug("Ping sent")
	return nil
}

func (s *Session) dispatch(f broker.Frame) error {
	s.stats.received.Inc()
	e, err := s.decode(f)
	if err != nil {
		s.stats.decodeErrors.Inc()
		s.logger.Warn("Drop undecodable message", zap.Error(&DecodeError{Err: err}))
		return nil
	}
	s.stats.bytes.Add(int64(len(e.Payload)))
	if e.Qos > 0 {
		if err := s.transport.Ack(e.MessageID); err != nil {
			return &TransportError{Op: "puback", Err: err}
		}
	}
	if len(e.Payload) == 0 || s.launcher == nil {
		s.stats.dropped.Inc()
		return nil
	}

	s.logger.Debug("Dispatch message",
		zap.String("topic", e.Topic),
		zap.String("size", humanize.Bytes(uint64(len(e.Payload)))))
	if err := s.launcher.Launch(s.cfg.Topic, e.Payload); err != nil {
		s.stats.launchErrors.Inc()
		s.logger.Error("Launch handler failed", zap.Error(err))
		return nil
	}
	s.stats.dispatched.Inc()
	return nil
}
