package handler

import (
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultName is the handler program used when none is configured.
const DefaultName = "default"

type Option func(e *Exec) error

// WithDir returns an Option which set the directory holding handler programs.
func WithDir(dir string) Option {
	return func(e *Exec) error {
		e.dir = dir
		return nil
	}
}

// WithName returns an Option which set the handler program name, also passed as argv[0].
func WithName(name string) Option {
	return func(e *Exec) error {
		if name == "" || strings.ContainsRune(name, '/') {
			return errors.New("invalid handler name " + name)
		}
		e.name = name
		return nil
	}
}

// WithMaxConcurrent returns an Option which cap the number of running handlers.
// Zero means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(e *Exec) error {
		if n < 0 {
			return errors.New("negative handler limit")
		}
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
		return nil
	}
}

// WithLogger returns an Option which set the logger for Exec.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exec) error {
		e.logger = logger
		return nil
	}
}
