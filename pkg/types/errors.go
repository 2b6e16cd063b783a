package types

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against any error produced by the
// constructors below.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("not authorized")
	ErrPersistence   = errors.New("persistence error")
	ErrCapacity      = errors.New("capacity exceeded")
)

// Error is a declined operation. Message is safe to show to the initiating
// client.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return newError(ErrValidation, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newError(ErrNotFound, format, args...)
}

func Forbiddenf(format string, args ...any) *Error {
	return newError(ErrAuthorization, format, args...)
}

func Capacityf(format string, args ...any) *Error {
	return newError(ErrCapacity, format, args...)
}

// PersistenceErr wraps a durable store failure.
func PersistenceErr(err error, format string, args ...any) *Error {
	e := newError(ErrPersistence, format, args...)
	e.Err = err
	return e
}

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrAuthorization, ErrPersistence, ErrCapacity} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the client-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
