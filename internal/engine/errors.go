package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportClosed is returned when writing to an engine whose input
	// has already been released.
	ErrTransportClosed = errors.New("engine transport closed")
	// ErrUnexpectedTermination means the engine output ended before a
	// complete line arrived.
	ErrUnexpectedTermination = errors.New("engine process ended unexpectedly")
	// ErrMalformedMessage means a complete line was not valid JSON for the
	// expected reply.
	ErrMalformedMessage = errors.New("malformed engine message")
)

// SpawnError reports that the engine binary could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn engine %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsFatal reports whether err means the engine process is gone and its
// session can never answer again.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnexpectedTermination) || errors.Is(err, ErrTransportClosed)
}
