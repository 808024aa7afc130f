package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the service-wide error taxonomy. The HTTP layer maps kinds to
// status codes; internal callers branch with KindOf.
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindNotFound       ErrorKind = "not_found"
	KindInvalidState   ErrorKind = "invalid_state"
	KindUnprocessable  ErrorKind = "unprocessable"
	KindRateLimited    ErrorKind = "rate_limited"
	KindExternal       ErrorKind = "external"
	KindInternal       ErrorKind = "internal"
)

// Error is a typed error carrying a taxonomy kind, a stable machine code
// (e.g. "UPLD_001") and a caller-safe message. The wrapped cause, if any, is
// logged out-of-band and never rendered to callers.
type Error struct {
	Kind    ErrorKind
	Code    string
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

// E builds a typed error without a cause.
func E(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds a typed error around a cause.
func Wrap(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// KindOf extracts the taxonomy kind from any error chain. Unrecognized errors
// are Internal.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// CodeOf extracts the machine code from an error chain, empty if untyped.
func CodeOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
