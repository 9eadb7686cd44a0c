package broker

import (
	"errors"
	"fmt"
)

// Kind is the category of a broker error.
//
// The dispatcher and the executor translate every failure into exactly one
// Kind, and the Kind is carried verbatim in the failure response.
type Kind string

const (
	// KindProtocol: short or partial header, unterminated string, payload
	// length mismatch, unknown command, malformed field. Connection-fatal.
	KindProtocol Kind = "protocol"

	// KindAuth: bad token, empty/oversized path, traversal segment.
	// Connection-fatal, no side effects.
	KindAuth Kind = "auth"

	// KindPolicy: an active retention window blocks a delete. The file is
	// left untouched.
	KindPolicy Kind = "policy"

	// KindIO: filesystem or ledger failure, including not-found.
	KindIO Kind = "io"

	// KindExternal: the label or sync tool returned a nonzero status.
	KindExternal Kind = "external"
)

// Error is a classified broker failure.
type Error struct {
	// Kind is the failure category
	Kind Kind

	// Op is the operation that failed (command name or pipeline stage)
	Op string

	// Path is the path the operation targeted, if any
	Path string

	// Message is the human-readable description sent to the caller
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a *Error with a formatted message and no underlying cause.
func Errorf(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Error around err.
func Wrap(kind Kind, op, path, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: message, Err: err}
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" if err is not a broker error.
func KindOf(err error) Kind {
	if be, ok := AsError(err); ok {
		return be.Kind
	}
	return ""
}

// IsKind reports whether err is a broker error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
