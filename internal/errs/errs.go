// Package errs holds the error taxonomy shared by services and handlers.
package errs

import (
	"errors"
	"fmt"
)

// Kinds. Match with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation error")
)

// Error is a typed outcome carrying a user-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error { return newf(ErrUnauthorized, format, args...) }
func Forbidden(format string, args ...any) error    { return newf(ErrForbidden, format, args...) }
func NotFound(format string, args ...any) error     { return newf(ErrNotFound, format, args...) }
func Conflict(format string, args ...any) error     { return newf(ErrConflict, format, args...) }
func Validation(format string, args ...any) error   { return newf(ErrValidation, format, args...) }

// Common messages.
var (
	ErrTicketNotFound  = NotFound("ticket not found")
	ErrStoreNotFound   = NotFound("store not found")
	ErrUserNotFound    = NotFound("user not found")
	ErrNetworkNotFound = NotFound("network not found")
)
