// Package errors defines the categorized errors the report engine surfaces
// to its callers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for the request boundary.
type Kind string

const (
	// KindValidation marks a malformed or out-of-range filter field.
	KindValidation Kind = "validation"
	// KindNotFound marks an unknown category.
	KindNotFound Kind = "not_found"
	// KindUpstream marks a failed storage collaborator.
	KindUpstream Kind = "upstream_unavailable"
)

// Error is a categorized error with an optional cause.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a detail value.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewValidationError creates a validation error for a filter field.
func NewValidationError(field, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "INVALID_FILTER",
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewNotFoundError creates a not found error for a named resource.
func NewNotFoundError(resource, key string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %q not found", resource, key),
		Details: map[string]interface{}{
			resource: key,
		},
	}
}

// NewUpstreamUnavailable wraps a storage failure.
func NewUpstreamUnavailable(op string, cause error) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    "UPSTREAM_UNAVAILABLE",
		Message: fmt.Sprintf("%s failed", op),
		Cause:   cause,
	}
}

// KindOf returns the kind of the first categorized error in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

// IsUpstream reports whether err is an upstream failure.
func IsUpstream(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindUpstream
}
