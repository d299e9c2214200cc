// Package apperr defines the closed error-kind taxonomy used across the
// session lifecycle engine, git integration layer, merge engine, and
// persistent store, so the command facade can map any returned error to a
// stable kind without a per-package type switch.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds enumerated in spec.md §7.
type Kind string

const (
	Validation  Kind = "validation"
	NotFound    Kind = "not_found"
	Conflict    Kind = "conflict"
	Precondition Kind = "precondition"
	Git         Kind = "git"
	IO          Kind = "io"
	Timeout     Kind = "timeout"
	Internal    Kind = "internal"
)

// Error is a wrapped error carrying a stable Kind and, for Precondition
// errors, up to a handful of offending paths.
type Error struct {
	Kind    Kind
	Message string
	Paths   []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is comparisons against a bare Kind sentinel created via
// New(kind, "").
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithPaths attaches offending paths to a Precondition error, capped at 5
// per spec.md §7.
func (e *Error) WithPaths(paths []string) *Error {
	if len(paths) > 5 {
		paths = paths[:5]
	}
	e.Paths = paths
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}
