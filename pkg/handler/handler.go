// Package handler runs the user supplied handler program for each message.
//
// Every invocation is a separate process started with the argument vector
// [name, topic, payload] and an empty environment. The caller only learns
// whether the process could be created; exit status and output are ignored.
package handler

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when the concurrency cap is reached.
var ErrBusy = errors.New("too many running handlers")

// Launcher starts one handler invocation per call.
type Launcher interface {
	Launch(topic string, payload []byte) error
}

// LaunchError reports a handler process that could not be created.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch handler %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

var _ Launcher = (*Exec)(nil)

// Exec launches <dir>/<name> as a child process.
type Exec struct {
	dir     string
	name    string
	sem     *semaphore.Weighted
	running atomic.Int64
	logger  *zap.Logger
}

// New creates an Exec launcher.
func New(opts ...Option) (*Exec, error) {
	e := &Exec{name: DefaultName}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.dir == "" {
		return nil, errors.New("no handler directory provided")
	}
	if e.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		e.logger = l
	}
	return e, nil
}

// Path returns the program started for each invocation.
func (e *Exec) Path() string {
	return filepath.Join(e.dir, e.name)
}

// Running returns the number of handler processes not yet reaped.
func (e *Exec) Running() int64 {
	return e.running.Load()
}

func (e *Exec) command(topic string, payload []byte) *exec.Cmd {
	return &exec.Cmd{
		Path: e.Path(),
		Args: []string{e.name, topic, string(payload)},
		// a non-nil empty slice; nil would inherit our environment
		Env: []string{},
	}
}

// Launch starts the handler and returns once the process exists. The process
// is reaped in the background.
func (e *Exec) Launch(topic string, payload []byte) error {
	if e.sem != nil && !e.sem.TryAcquire(1) {
		return &LaunchError{Path: e.Path(), Err: ErrBusy}
	}
	release := func() {
		if e.sem != nil {
			e.sem.Release(1)
		}
	}

	cmd := e.command(topic, payload)
	if err := cmd.Start(); err != nil {
		release()
		return &LaunchError{Path: cmd.Path, Err: err}
	}
	e.running.Inc()
	pid := cmd.Process.Pid
	e.logger.Debug("Handler started",
		zap.Int("pid", pid),
		zap.String("topic", topic),
		zap.String("payload_size", humanize.Bytes(uint64(len(payload)))))

	go func() {
		defer e.running.Dec()
		defer release()
		if err := cmd.Wait(); err != nil {
			e.logger.Debug("Handler exited", zap.Int("pid", pid), zap.Error(err))
			return
		}
		e.logger.Debug("Handler exited", zap.Int("pid", pid))
	}()
	return nil
}
