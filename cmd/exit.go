// This file is part of mqttcd
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bizflycloud/mqttcd/pkg/session"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitConnection = 3
	exitTransport  = 4
)

// usageError marks errors caused by bad flags, arguments or configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func exitCode(err error) int {
	var (
		ue *usageError
		ce *session.ConnectionError
		te *session.TransportError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	case errors.As(err, &ce):
		return exitConnection
	case errors.As(err, &te):
		return exitTransport
	default:
		return exitFailure
	}
}
