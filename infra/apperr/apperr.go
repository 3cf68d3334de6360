package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the coarse categories the API layer
// and the orchestrator branch on.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindCrypto         Kind = "crypto_error"
	KindProvider       Kind = "provider_error"
	KindNetwork        Kind = "network_error"
	KindState          Kind = "state_error"
	KindNotImplemented Kind = "not_implemented"
)

// Error is the error type used across the service. Code carries the
// acquirer's native code for provider errors.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCode creates an error carrying a provider-native code
func WithCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap wraps a cause with a kind and message
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or empty when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the provider code of err when present
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the message of err, falling back to err.Error()
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

func IsNotFound(err error) bool   { return IsKind(err, KindNotFound) }
func IsValidation(err error) bool { return IsKind(err, KindValidation) }
func IsConflict(err error) bool   { return IsKind(err, KindConflict) }
