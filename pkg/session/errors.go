package session

import "fmt"

// ConnectionError reports a failed connect or subscribe handshake. The
// receive loop was never entered.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportError reports a failure of an established session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a publish packet that could not be parsed. It never
// ends the session.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode publish: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
