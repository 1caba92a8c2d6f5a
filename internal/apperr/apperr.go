// Package apperr defines the error taxonomy shared by every component.
// Handlers return a *Error; transport adapters translate it to the
// transport-specific status/code at the boundary and never let a bare
// internal error reach a client.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the canonical error kinds. Each kind maps to exactly one
// HTTP status and one MCP error code; transports own that mapping.
type Kind string

const (
	InvalidInput           Kind = "invalid_input"
	Unauthenticated        Kind = "unauthenticated"
	PermissionDenied       Kind = "permission_denied"
	RateLimited            Kind = "rate_limited"
	Busy                   Kind = "busy"
	Timeout                Kind = "timeout"
	DependencyUnavailable  Kind = "dependency_unavailable"
	Conflict               Kind = "conflict"
	NotFound               Kind = "not_found"
	TooLarge               Kind = "too_large"
	Internal               Kind = "internal"
)

// Error is the canonical error type returned by every component.
// Message is always safe to show to a client; the wrapped Cause is only
// ever logged, never serialized to a response body.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no details and no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that wraps an internal cause. The cause is
// never included in Error()'s client-facing message rendering helpers;
// callers that log should log the cause explicitly.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(d map[string]any) *Error {
	c := *e
	c.Details = d
	return &c
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
