package fleet

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable machine-readable failure class carried by every domain
// error. The transport layer maps kinds to status codes.
type Kind string

const (
	KindUnauthenticated   Kind = "unauthenticated"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindInternal          Kind = "internal"
)

// Violation is a single field-level validation failure. Validation collects
// all violations instead of failing on the first.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the one error type domain operations return. It is raised at the
// point of the failed check, before any write is attempted, and propagates to
// the caller unmodified.
type Error struct {
	Kind       Kind
	Message    string
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.Field + ": " + v.Message
		}
		return e.Message + " (" + strings.Join(parts, "; ") + ")"
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindInternal for any error that is
// not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Unauthenticated means no principal was presented.
func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: "authentication required"}
}

// Forbidden means the principal's role or tenant scope does not allow the
// operation.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound covers both genuinely absent entities and cross-tenant access,
// which is deliberately indistinguishable from absence.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// Conflictf means the resource was already claimed or a concurrent transition
// won the race. Safe to retry at the caller's discretion.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionf means a status precondition was violated.
func InvalidTransitionf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// Invalid wraps collected field violations.
func Invalid(violations []Violation) *Error {
	return &Error{Kind: KindValidation, Message: "invalid input", Violations: violations}
}

// Internalf wraps an infrastructure failure. Use %w to keep the cause
// reachable through Unwrap.
func Internalf(format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: KindInternal, Message: err.Error(), Err: errors.Unwrap(err)}
}
