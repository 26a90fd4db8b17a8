// Package apperr defines the error taxonomy shared by the provisioning, login
// and account services. Every error returned across a service boundary wraps
// one of the sentinel kinds below so handlers can branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidToken = errors.New("invalid token")
	ErrAuth         = errors.New("invalid credentials")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrDecryption   = errors.New("decryption failed")
	ErrServer       = errors.New("internal server error")
	ErrRateLimited  = errors.New("rate limited")
)

// Error carries a kind, a caller-safe message and optional structured fields.
// Err holds the internal cause and is never shown to callers.
type Error struct {
	Kind    error
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// With returns a copy of e carrying an extra field.
func (e *Error) With(key, value string) *Error {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	cp := *e
	cp.Fields = fields
	return &cp
}

func newError(kind error, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg}
}

func Validation(format string, args ...any) *Error { return newError(ErrValidation, format, args...) }
func Conflict(format string, args ...any) *Error   { return newError(ErrConflict, format, args...) }
func NotFound(format string, args ...any) *Error   { return newError(ErrNotFound, format, args...) }
func Expired(format string, args ...any) *Error    { return newError(ErrExpired, format, args...) }
func InvalidToken(format string, args ...any) *Error {
	return newError(ErrInvalidToken, format, args...)
}
func Forbidden(format string, args ...any) *Error { return newError(ErrForbidden, format, args...) }
func Unauthorized(format string, args ...any) *Error {
	return newError(ErrUnauthorized, format, args...)
}
func InvalidState(format string, args ...any) *Error {
	return newError(ErrInvalidState, format, args...)
}

// Auth returns the generic credential failure. The message is fixed so that
// callers cannot tell an unknown account from a wrong password.
func Auth() *Error { return &Error{Kind: ErrAuth, Message: ErrAuth.Error()} }

// Decryption wraps a key material failure.
func Decryption(cause error) *Error {
	return &Error{Kind: ErrDecryption, Message: "key material could not be decrypted", Err: cause}
}

// Server wraps an unexpected failure. The cause is kept for logging only.
func Server(cause error, format string, args ...any) *Error {
	e := newError(ErrServer, format, args...)
	e.Err = cause
	return e
}

// Message returns the caller-safe message for err. Unknown errors and server
// errors collapse to a generic message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && !errors.Is(e.Kind, ErrServer) && !errors.Is(e.Kind, ErrDecryption) {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.Error()
	}
	return ErrServer.Error()
}

// Fields returns the structured fields attached to err, if any.
func Fields(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
