package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation decisions
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindCapture
	KindTransientIO
	KindConsistency
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindCapture:
		return "capture"
	case KindTransientIO:
		return "transient_io"
	case KindConsistency:
		return "consistency"
	default:
		return "internal"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindInternal.
func ParseKind(s string) Kind {
	for k := KindInternal; k <= KindConsistency; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindInternal
}

// Error is a kinded application error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same kind and code. An empty code on
// the target matches any code of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// With attaches a context value and returns the receiver
func (e *Error) With(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: err}
}

func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_FAILED", message)
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id)).
		With("resource", resource).
		With("id", id)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, "FORBIDDEN", message)
}

// AlreadyTracking is the conflict returned when an employee already has an
// active session
func AlreadyTracking(employeeID string) *Error {
	return New(KindConflict, "ALREADY_TRACKING", "already tracking").With("employee_id", employeeID)
}

func Capture(err error) *Error {
	return Wrap(err, KindCapture, "CAPTURE_FAILED", "screenshot capture failed")
}

func TransientIO(operation string, err error) *Error {
	return Wrap(err, KindTransientIO, "TRANSIENT_IO", operation).With("operation", operation)
}

func Consistency(message string) *Error {
	return New(KindConsistency, "CONSISTENCY", message)
}

func Internal(message string, err error) *Error {
	return Wrap(err, KindInternal, "INTERNAL", message)
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err. Context deadlines and cancellations are
// transient; any other non-kinded error is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientIO
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller may retry the same request unchanged
func Retryable(err error) bool {
	return IsKind(err, KindTransientIO)
}

// HTTPStatus maps an error to the status code used by the HTTP binding.
// An already-active session is reported as 400.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage hides internal details of system errors
func UserMessage(err error) string {
	e, ok := As(err)
	if !ok {
		return "An unexpected error occurred. Please try again."
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindForbidden, KindConflict:
		return e.Message
	case KindTransientIO:
		return "The service is temporarily unavailable. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
