// Package apperr defines the error taxonomy shared by every ppmcore operation.
// Every error surfaced to a caller maps to a stable shape:
// {category, message, detail?, field?, row?, retry_after?}.
package apperr

import (
	"errors"
	"fmt"
)

// Category classifies an error kind. The set is closed.
type Category string

const (
	CategoryValidation      Category = "validation_error"
	CategoryNotFound        Category = "not_found"
	CategoryConflict        Category = "conflict"
	CategoryUnauthenticated Category = "unauthenticated"
	CategoryForbidden       Category = "forbidden"
	CategoryRateLimited     Category = "rate_limit_exceeded"
	CategoryDependency      Category = "dependency_unavailable"
	CategoryTimeout         Category = "timeout"
	CategoryInternal        Category = "internal_error"
)

// Error is the structured error carried across package boundaries.
// Detail is internal-only for dependency/internal categories; callers see
// the category and message, operators see the wrapped cause in logs.
type Error struct {
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Detail     string   `json:"detail,omitempty"`
	Field      string   `json:"field,omitempty"`
	Row        int      `json:"row,omitempty"`
	RetryAfter int      `json:"retry_after,omitempty"` // seconds
	cause      error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Category, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error without changing the surfaced shape.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Validation reports a structural or semantic input failure.
func Validation(field, message string) *Error {
	return &Error{Category: CategoryValidation, Message: message, Field: field}
}

// ValidationRow reports a per-row input failure during import.
func ValidationRow(row int, field, message string) *Error {
	return &Error{Category: CategoryValidation, Message: message, Field: field, Row: row}
}

// NotFound reports an absent referenced entity.
func NotFound(kind, id string) *Error {
	return &Error{
		Category: CategoryNotFound,
		Message:  fmt.Sprintf("%s not found", kind),
		Detail:   id,
	}
}

// Conflict reports a state-transition violation.
func Conflict(message string) *Error {
	return &Error{Category: CategoryConflict, Message: message}
}

// Unauthenticated reports a missing or malformed token.
func Unauthenticated(message string) *Error {
	return &Error{Category: CategoryUnauthenticated, Message: message}
}

// Forbidden reports an authenticated caller lacking a required permission.
func Forbidden(permission string) *Error {
	return &Error{
		Category: CategoryForbidden,
		Message:  "missing required permission",
		Detail:   permission,
	}
}

// RateLimited reports request-rate exhaustion with a retry hint in seconds.
func RateLimited(retryAfter int) *Error {
	return &Error{
		Category:   CategoryRateLimited,
		Message:    "too many requests",
		RetryAfter: retryAfter,
	}
}

// Dependency reports an unreachable backing service (DB, AI, cache).
func Dependency(service string, err error) *Error {
	return &Error{
		Category: CategoryDependency,
		Message:  fmt.Sprintf("%s unavailable", service),
		cause:    err,
	}
}

// Timeout reports a deadline expiry; partial results may accompany it.
func Timeout(operation string) *Error {
	return &Error{
		Category: CategoryTimeout,
		Message:  fmt.Sprintf("%s deadline exceeded", operation),
	}
}

// Internal wraps an unexpected condition. The message shown to callers is
// opaque; the cause goes to logs only.
func Internal(err error) *Error {
	return &Error{
		Category: CategoryInternal,
		Message:  "internal error",
		cause:    err,
	}
}

// CategoryOf extracts the category from any error chain.
// Unclassified errors are internal.
func CategoryOf(err error) Category {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return CategoryInternal
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
