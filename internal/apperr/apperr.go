// Package apperr defines the stable error taxonomy surfaced by the API.
//
// Kind names appear verbatim in responses and must not change. Every layer
// below the HTTP surface returns *Error for conditions a client can act on;
// anything else is classified internal at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for clients.
type Kind string

// Taxonomy kinds
const (
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindNotReady       Kind = "not_ready"
	KindFrozen         Kind = "frozen"
	KindBusy           Kind = "busy"
	KindDependency     Kind = "dependency"
	KindInvalidRequest Kind = "invalid_request"
	KindInternal       Kind = "internal"
)

// HTTPStatus maps a kind to its response status. not_ready, conflict and
// busy share 409 and are distinguished by the error kind in the body;
// frozen is 423.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNotReady, KindBusy:
		return http.StatusConflict
	case KindFrozen:
		return http.StatusLocked
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a client may retry the call unchanged,
// reusing its idempotency key.
func (k Kind) Retryable() bool {
	switch k {
	case KindBusy, KindDependency, KindInternal:
		return true
	}
	return false
}

// Error is a classified error with optional client-visible details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind, so sentinel-style comparisons
// like errors.Is(err, apperr.New(apperr.KindBusy, "")) work across layers.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail sets a client-visible detail field and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying cause. A nil cause returns nil so call
// sites can wrap unconditionally.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound reports an absent project, code, candidate or fragment.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Conflict reports a uniqueness or invariant violation.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// NotReady builds the gate refusal carrying its blocking reasons.
func NotReady(reasons []string) *Error {
	e := New(KindNotReady, "ontology is not axial-ready")
	return e.WithDetail("blocking_reasons", reasons)
}

// Frozen reports the project freeze gate refusing a mutating maintenance op.
func Frozen(projectID string) *Error {
	e := New(KindFrozen, "project %s is frozen", projectID)
	return e.WithDetail("project_id", projectID)
}

// Busy reports an advisory lock already held. holder is the session id of
// the current holder when known, empty otherwise.
func Busy(lockClass, holder string) *Error {
	e := New(KindBusy, "advisory lock %s is held", lockClass)
	e.WithDetail("lock_class", lockClass)
	if holder != "" {
		e.WithDetail("holder_session_id", holder)
	}
	return e
}

// Dependency reports a transient failure in an external store.
func Dependency(cause error, store string) *Error {
	e := Wrap(KindDependency, cause, "%s unavailable", store)
	if e == nil {
		e = New(KindDependency, "%s unavailable", store)
	}
	return e.WithDetail("store", store)
}

// Invalid reports a schema or validation failure.
func Invalid(format string, args ...any) *Error {
	return New(KindInvalidRequest, format, args...)
}

// Internal classifies an unexpected fault.
func Internal(cause error, format string, args ...any) *Error {
	if cause == nil {
		return New(KindInternal, format, args...)
	}
	return Wrap(KindInternal, cause, format, args...)
}

// KindOf extracts the taxonomy kind from any error. Unclassified errors
// are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsNotFound is a convenience for the most common check.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsConflict reports a uniqueness or invariant violation.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }

// IsInvalid reports a malformed or unacceptable request.
func IsInvalid(err error) bool { return IsKind(err, KindInvalidRequest) }

// IsBusy reports a held advisory lock.
func IsBusy(err error) bool { return IsKind(err, KindBusy) }

// IsFrozen reports the project identity lock.
func IsFrozen(err error) bool { return IsKind(err, KindFrozen) }

// IsNotReady reports a readiness gate refusal.
func IsNotReady(err error) bool { return IsKind(err, KindNotReady) }
