// Package apperr defines the typed error taxonomy shared by all layers.
// Services and repositories return these instead of raw errors so handlers
// can map failures to HTTP status codes without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	CodeValidation   Code = "VALIDATION"    // malformed or budget-violating input
	CodeUnauthorized Code = "UNAUTHORIZED"  // insufficient approval level or membership
	CodeNotFound     Code = "NOT_FOUND"     // referenced entity does not exist
	CodeInvalidState Code = "INVALID_STATE" // entity not in the state the action requires
	CodePersistence  Code = "PERSISTENCE"   // the storage gateway failed
	CodeInternal     Code = "INTERNAL"      // everything else
)

// Error carries a code, a user-presentable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing entity by kind and id.
func NotFound(kind, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", kind, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, reason string) *Error {
	return Newf(CodeValidation, "%s: %s", field, reason)
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf extracts the presentable message from an error chain.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}
