// Package domainerrors defines the error taxonomy shared by every feature.
//
// Services return *Error values carrying a stable Code; handlers translate the
// code into an HTTP status at the boundary. Wrap infrastructure failures with
// CodeInternal or CodeUnavailable so callers can distinguish retryable
// transport problems from domain rule violations.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// CodeValidation marks malformed or missing input to a use case.
	CodeValidation Code = "validation"
	// CodeInvalidInput marks a value that failed parsing at a trust boundary.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest marks a request that is syntactically broken.
	CodeBadRequest Code = "bad_request"
	// CodeInvariantViolation marks a domain invariant breach during construction.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeNotFound marks a missing resource or one outside the caller's tenant.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a concurrent-write loser; retryable after re-read.
	CodeConflict Code = "conflict"
	// CodeInvalidState marks an operation not permitted in the current
	// lifecycle state. Not retryable until the state legitimately changes.
	CodeInvalidState Code = "invalid_state"
	// CodeAuditIntegrity marks a broken or incomplete audit chain. Fatal to
	// the triggering operation, never bypassed.
	CodeAuditIntegrity Code = "audit_integrity"
	// CodeUnauthorized marks a missing or unverifiable actor identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks an authenticated actor without permission.
	CodeForbidden Code = "forbidden"
	// CodeTimeout marks an operation that exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeInternal marks an unexpected infrastructure failure.
	CodeInternal Code = "internal"
	// CodeUnavailable marks a dependency that is temporarily unreachable.
	CodeUnavailable Code = "unavailable"
)

// Error is the domain error type. Meta carries structured diagnostic fields
// (current status, allowed statuses, missing event types) that handlers may
// expose to callers.
type Error struct {
	Code    Code
	Message string
	Meta    map[string]any
	cause   error
}

// New constructs a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As inspection.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithMeta returns the error with a diagnostic field attached. Chainable.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// HasCode reports whether err (or any error it wraps) is a domain error
// carrying the given code.
func HasCode(err error, code Code) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability in conditionals.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf extracts the code from a domain error, defaulting to CodeInternal
// for unclassified errors so unknown failures never leak details outward.
func CodeOf(err error) Code {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return CodeInternal
}

// MetaOf extracts the diagnostic fields from a domain error, or nil.
func MetaOf(err error) map[string]any {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Meta
	}
	return nil
}
