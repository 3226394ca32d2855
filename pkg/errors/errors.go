package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Status    int                    `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	Err       error                  `json:"-"`
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

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound         = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden        = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized     = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict         = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation       = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrDuplicate        = New("DUPLICATE", http.StatusConflict, "value already in use")
	ErrCapacityExceeded = New("CAPACITY_EXCEEDED", http.StatusConflict, "course is full")
	ErrTransient        = New("TRANSIENT_STORE", http.StatusServiceUnavailable, "store temporarily unavailable, retry the operation")
	ErrInternal         = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss        = New("CACHE_MISS", http.StatusNotFound, "cache miss")
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
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails returns a copy of err carrying the given key/value pairs.
func WithDetails(err *Error, kv ...interface{}) *Error {
	clone := Clone(err, "")
	if clone == nil {
		return nil
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{}, len(kv)/2)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		clone.Details[key] = kv[i+1]
	}
	return clone
}

// Is reports whether err carries the given error code.
func Is(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Validation reports a rejected input field.
func Validation(field, message string) *Error {
	return WithDetails(Clone(ErrValidation, message), "field", field)
}

// Duplicate reports a uniqueness violation on field with the conflicting value.
func Duplicate(field, value string) *Error {
	return WithDetails(Clone(ErrDuplicate, fmt.Sprintf("%s already in use: %s", field, value)), "field", field, "value", value)
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return WithDetails(Clone(ErrNotFound, entity+" not found"), "entity", entity, "id", id)
}

// CapacityExceeded reports a full course.
func CapacityExceeded(courseID string, enrolled, capacity int) *Error {
	msg := fmt.Sprintf("course is full (%d/%d)", enrolled, capacity)
	return WithDetails(Clone(ErrCapacityExceeded, msg), "course_id", courseID, "enrolled", enrolled, "capacity", capacity)
}

// Conflict reports a course that cannot be removed while students hold it.
func Conflict(courseID string, enrolled int) *Error {
	msg := fmt.Sprintf("course still has %d enrolled students", enrolled)
	return WithDetails(Clone(ErrConflict, msg), "course_id", courseID, "enrolled", enrolled)
}

// Transient wraps a store failure the caller may retry from scratch.
func Transient(err error) *Error {
	e := Wrap(err, ErrTransient.Code, ErrTransient.Status, ErrTransient.Message)
	e.Retryable = true
	return e
}

// StudentConflict reports a student that cannot be removed while it holds courses.
func StudentConflict(studentID string, courses int) *Error {
	msg := fmt.Sprintf("student still holds %d courses", courses)
	return WithDetails(Clone(ErrConflict, msg), "student_id", studentID, "enrolled", courses)
}
