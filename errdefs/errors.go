// Package errdefs defines the failure classes a job can end with. Every error
// produced by this module that is meant to reach a caller carries one of the
// sentinel kinds below, so callers branch with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration covers missing or invalid templates and settings
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidInput covers job input that cannot be decoded or materialized
	ErrInvalidInput = errors.New("invalid input")
	// ErrConnectivity is returned once the bounded connection retries are exhausted
	ErrConnectivity = errors.New("connectivity error")
	// ErrSubmission is returned when the engine rejects a prompt
	ErrSubmission = errors.New("submission rejected")
	// ErrExecution is returned when the engine reports a node failure
	ErrExecution = errors.New("execution error")
	// ErrResourceExhausted is an execution failure caused by running out of memory
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrOutputMissing is returned when a run finished without producing anything
	ErrOutputMissing = errors.New("output missing")
)

// Error is a classified failure. Kind is one of the sentinels above, Err an
// optional cause, and Hints remediation suggestions for the caller.
type Error struct {
	Kind  error
	Msg   string
	Hints []string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.Error())
	}
	if e.Msg != "" && e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Hints) > 0 {
		b.WriteString(". Try: ")
		b.WriteString(strings.Join(e.Hints, "; "))
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Configurationf(format string, args ...any) *Error {
	return newf(ErrConfiguration, format, args...)
}

func InvalidInputf(format string, args ...any) *Error {
	return newf(ErrInvalidInput, format, args...)
}

func Connectivityf(format string, args ...any) *Error {
	return newf(ErrConnectivity, format, args...)
}

func Submissionf(format string, args ...any) *Error {
	return newf(ErrSubmission, format, args...)
}

func Executionf(format string, args ...any) *Error {
	return newf(ErrExecution, format, args...)
}

func ResourceExhaustedf(format string, args ...any) *Error {
	return newf(ErrResourceExhausted, format, args...)
}

func OutputMissingf(format string, args ...any) *Error {
	return newf(ErrOutputMissing, format, args...)
}

// Wrap classifies err under kind, keeping it as the cause
func Wrap(kind error, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithHints returns e with hints appended
func (e *Error) WithHints(hints ...string) *Error {
	e.Hints = append(e.Hints, hints...)
	return e
}

var kinds = []error{
	ErrConfiguration,
	ErrInvalidInput,
	ErrConnectivity,
	ErrSubmission,
	ErrResourceExhausted,
	ErrExecution,
	ErrOutputMissing,
}

// KindOf returns the sentinel kind of err, or nil for unclassified errors
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
