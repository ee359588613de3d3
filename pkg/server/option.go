package server

import (
	"go.uber.org/zap"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithStatusProvider returns an Option which set where the server reads the session status.
func WithStatusProvider(p StatusProvider) Option {
	return func(s *Server) error {
		s.status = p
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
