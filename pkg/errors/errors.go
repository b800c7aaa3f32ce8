package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of failure classes callers can branch on.
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindInvalidWindow Kind = "INVALID_WINDOW"
	KindForbidden     Kind = "FORBIDDEN"
	KindExpired       Kind = "EXPIRED"
	KindValidation    Kind = "VALIDATION"
	KindUnauthorized  Kind = "UNAUTHORIZED"
	KindInternal      Kind = "INTERNAL"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so predefined values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, kind Kind, status int, message string) *Error {
	return &Error{Code: code, Kind: kind, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kindForStatus(status), Status: status, Message: message, Err: err}
}

// Internal wraps an unexpected failure as an internal error.
func Internal(err error, message string) *Error {
	return &Error{Code: ErrInternal.Code, Kind: KindInternal, Status: ErrInternal.Status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", KindNotFound, http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", KindForbidden, http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", KindUnauthorized, http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", KindConflict, http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", KindValidation, http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", KindInternal, http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", KindNotFound, http.StatusNotFound, "cache miss")

	ErrCourseNotFound     = New("COURSE_NOT_FOUND", KindNotFound, http.StatusNotFound, "course not found")
	ErrCourseInactive     = New("COURSE_INACTIVE", KindConflict, http.StatusBadRequest, "course is not open for enrollment")
	ErrEnrollmentClosed   = New("ENROLLMENT_CLOSED", KindConflict, http.StatusBadRequest, "enrollment window has closed")
	ErrAlreadyEnrolled    = New("ALREADY_ENROLLED", KindConflict, http.StatusBadRequest, "user already enrolled in course")
	ErrNoCapacity         = New("NO_CAPACITY", KindConflict, http.StatusBadRequest, "no seats available")
	ErrEnrollmentNotFound = New("ENROLLMENT_NOT_FOUND", KindNotFound, http.StatusNotFound, "enrollment not found")
	ErrEnrollmentInactive = New("ENROLLMENT_NOT_ACTIVE", KindConflict, http.StatusBadRequest, "enrollment is not active")

	ErrInvalidWindow      = New("INVALID_WINDOW", KindInvalidWindow, http.StatusBadRequest, "session window must end after it starts")
	ErrSessionOverlap     = New("SESSION_OVERLAP", KindConflict, http.StatusBadRequest, "course already has an open attendance session")
	ErrHourBudgetExceeded = New("HOUR_BUDGET_EXCEEDED", KindConflict, http.StatusBadRequest, "session exceeds the course hour budget")
	ErrSessionNotFound    = New("SESSION_NOT_FOUND", KindNotFound, http.StatusNotFound, "attendance session not found")

	ErrNoSessions       = New("NO_SESSIONS", KindNotFound, http.StatusNotFound, "course has no attendance sessions")
	ErrInvalidCode      = New("INVALID_CODE", KindConflict, http.StatusBadRequest, "attendance code not recognised")
	ErrCodeOtherCourse  = New("CODE_OTHER_COURSE", KindConflict, http.StatusBadRequest, "attendance code belongs to a different course")
	ErrSessionExpired   = New("SESSION_EXPIRED", KindExpired, http.StatusBadRequest, "attendance session is no longer open")
	ErrSessionUpcoming  = New("SESSION_NOT_STARTED", KindExpired, http.StatusBadRequest, "attendance session has not started yet")
	ErrAlreadyCheckedIn = New("ALREADY_CHECKED_IN", KindConflict, http.StatusBadRequest, "attendance already recorded for this session")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	clone.Details = nil
	return &clone
}

// WithDetails returns a copy of err carrying a structured payload.
func WithDetails(err *Error, details map[string]interface{}) *Error {
	clone := Clone(err, "")
	if clone == nil {
		return nil
	}
	clone.Details = details
	return clone
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return FromError(err).Kind
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadRequest:
		return KindValidation
	default:
		return KindInternal
	}
}
