// Package forgeerr defines the single error type shared across the
// provisioner, controllers, workspace, and gateway. A Kind classifies every
// failure the boundary adapter needs to map to a status code; a Cause chain
// is always preserved so %w-style unwrapping keeps working.
package forgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for boundary mapping. See spec §7.
type Kind int

const (
	// Validation covers malformed input caught before any work starts:
	// a bad URL, an unknown provisioning mode, an unknown server mode, a
	// base64 decode failure.
	Validation Kind = iota
	// NotFound covers a missing workspace id or a missing file on read.
	NotFound
	// Backend covers failures in the execution environment itself: the
	// container daemon is unreachable, an image pull failed, a subprocess
	// could not be spawned.
	Backend
	// CommandFailure covers a command that executed but exited non-zero.
	// Only Cmd (never CmdWithOutput) produces this.
	CommandFailure
	// Integration covers a failed call to the Git-hosting integration.
	Integration
	// Invariant covers an operation attempted on a workspace whose
	// controller has already stopped.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Backend:
		return "backend"
	case CommandFailure:
		return "command_failure"
	case Integration:
		return "integration"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is the sum type used across the module. Output carries the captured
// command output for a CommandFailure raised during setup-script
// provisioning, so callers can surface it without re-running anything.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Output  []byte
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an Error with no cause from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error carrying cause as its chained cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Wrapf is Wrap with a format string.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithOutput attaches captured command output to e and returns e.
func (e *Error) WithOutput(output []byte) *Error {
	e.Output = output
	return e
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else ok is
// false.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
