package session

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/mqttcd/pkg/broker"
	"github.com/bizflycloud/mqttcd/pkg/handler"
	"github.com/bizflycloud/mqttcd/pkg/shutdown"
)

type Option func(s *Session) error

// WithDecoder returns an Option which set how publish frames are decoded.
func WithDecoder(decode broker.DecodeFunc) Option {
	return func(s *Session) error {
		s.decode = decode
		return nil
	}
}

// WithLauncher returns an Option which set the handler launcher.
func WithLauncher(l handler.Launcher) Option {
	return func(s *Session) error {
		s.launcher = l
		return nil
	}
}

// WithSignal returns an Option which set the shutdown signal polled by the loop.
func WithSignal(sig *shutdown.Signal) Option {
	return func(s *Session) error {
		s.signal = sig
		return nil
	}
}

// WithLogger returns an Option which set the logger for Session.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}
