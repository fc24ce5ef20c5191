package hypergrep

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is attempted on a closed
	// resource, or on a Context whose Program was closed underneath it
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidArgument is returned for nil or malformed arguments, negative
	// sizes and unrecognized encoding names
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCompile is returned when a pattern is rejected by the grammar or when
	// a Program is compiled from an empty Fsm
	ErrCompile = errors.New("compile error")
	// ErrSerialization is returned when a serialized Program is malformed
	ErrSerialization = errors.New("malformed program")

	// ErrNoPatterns is returned when Update() is invoked with an empty pattern slice
	ErrNoPatterns = errors.New("no patterns specified")
	// ErrNotLoaded is returned when Match() is invoked while no program is compiled and loaded
	ErrNotLoaded = errors.New("database not loaded")
	// ErrNotStarted is returned when the workers of a pooled engine are not running
	ErrNotStarted = errors.New("workers not started")
	// ErrStarted is returned when Start() is invoked on a running pooled engine
	ErrStarted = errors.New("workers already started")
	// ErrBusy is returned when all workers of a pooled engine are busy
	ErrBusy = errors.New("workers busy")
	// ErrWorkerUninitialized is returned by a worker that has not received a program yet
	ErrWorkerUninitialized = errors.New("worker uninitialized")
)

func closedError(what string) error {
	return fmt.Errorf("%s is closed: %w", what, ErrInvalidState)
}

func argError(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// ErrorSink captures the diagnostic text of the last failing Parse,
// AddPattern, AddPatterns or Compile call it was passed to. A sink can be
// reused across calls; each failure overwrites the previous message.
type ErrorSink struct {
	handle  *Handle
	message string
}

// NewErrorSink returns an empty, open ErrorSink
func NewErrorSink() *ErrorSink {
	return &ErrorSink{handle: NewHandle(acquireHandle())}
}

// Message returns the last diagnostic written to the sink, or an empty string
func (s *ErrorSink) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Close releases the sink; closing an unused or already closed sink is a no-op
func (s *ErrorSink) Close() error {
	if s == nil {
		return nil
	}
	s.handle.Close()
	s.message = ""
	return nil
}

func (s *ErrorSink) check() error {
	if s == nil {
		return argError("nil error sink")
	}
	if !s.handle.IsOpen() {
		return closedError("error sink")
	}
	return nil
}

func (s *ErrorSink) record(err error) {
	if s != nil && err != nil {
		s.message = err.Error()
	}
}
