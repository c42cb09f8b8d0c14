// Package ferrors defines the error kinds used throughout Fern so callers
// can switch on a stable Kind at process boundaries (HTTP, channel replies)
// while still unwrapping to the underlying cause with errors.Is/errors.As.
package ferrors

import "fmt"

// Kind classifies an error for boundary handling. It is a string, not a
// sentinel value, so it serialises cleanly into logs and HTTP error bodies.
type Kind string

const (
	Validation    Kind = "ValidationError"
	Signature     Kind = "SignatureError"
	Transient     Kind = "TransientError"
	NotFound      Kind = "NotFound"
	Timeout       Kind = "TimeoutError"
	StateConflict Kind = "StateConflict"
	Fatal         Kind = "FatalError"
)

// Error carries a Kind alongside a human message and an optional wrapped
// cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying cause, formatting message like fmt.Sprintf
// when args are supplied.
func Wrap(kind Kind, cause error, message string, args ...interface{}) *Error {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			fe = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return fe != nil && fe.Kind == k
}
