// Package shutdown provides the process wide flag used to stop the session
// loop cooperatively.
package shutdown

import (
	"os"
	"os/signal"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Signal is set once by the hosting environment and polled by the session loop.
type Signal struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
}

// New creates an unset Signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Trigger sets the signal. Calling it more than once has no further effect.
func (s *Signal) Trigger() {
	s.once.Do(func() {
		s.flag.Store(true)
		close(s.done)
	})
}

// Triggered reports whether Trigger has been called.
func (s *Signal) Triggered() bool {
	return s.flag.Load()
}

// Done is closed when the signal is triggered.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Notify triggers s when the process receives one of sigs. The returned func
// stops the relay.
func Notify(s *Signal, logger *zap.Logger, sigs ...os.Signal) (stop func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, sigs...)
	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-c:
			logger.Info("shutting down...", zap.String("signal", sig.String()))
			s.Trigger()
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(c)
			close(quit)
		})
	}
}
