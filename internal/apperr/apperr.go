// Package apperr tags errors with the failure kind a chat request can end in.
// Transports report every kind the same way; the kind is kept for logging
// and for tests.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Unexpected Kind = iota
	Validation
	AuthMissing
	StoreUnavailable
	BackendFailure
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation_failure"
	case AuthMissing:
		return "authentication_missing"
	case StoreUnavailable:
		return "store_unavailable"
	case BackendFailure:
		return "backend_failure"
	default:
		return "unexpected"
	}
}

// Error carries a Kind, the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost tagged error in err's chain.
// Untagged errors are Unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}
