// Package apperror defines the error type the HTTP layer speaks:
// repositories and services return *Error values, the echo error
// handler renders them as {"error":{"code","message"}} bodies.
package apperror

import (
	"fmt"
	"net/http"
)

// Error is an application error with an HTTP mapping. Code is the
// stable machine-readable identifier clients switch on; Internal holds
// the underlying cause and never reaches the response body.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// WithInternal returns a copy carrying err as the cause. Sentinels stay
// immutable; every WithX derives a fresh value.
func (e *Error) WithInternal(err error) *Error {
	c := *e
	c.Internal = err
	return &c
}

// WithMessage returns a copy with a more specific message.
func (e *Error) WithMessage(message string) *Error {
	c := *e
	c.Message = message
	return &c
}

// New builds an error with an explicit status/code/message triple.
func New(status int, code, message string) *Error {
	return &Error{HTTPStatus: status, Code: code, Message: message}
}

var (
	ErrUnauthorized = New(http.StatusUnauthorized, "unauthorized", "Authentication required")
	ErrMissingToken = New(http.StatusUnauthorized, "missing_token", "Missing authorization token")
	ErrInvalidToken = New(http.StatusUnauthorized, "invalid_token", "Invalid or expired token")

	ErrForbidden = New(http.StatusForbidden, "forbidden", "Access denied")

	ErrNotFound    = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrJobNotFound = New(http.StatusNotFound, "job_not_found", "Job not found")

	ErrConflict   = New(http.StatusConflict, "conflict", "Resource already exists")
	ErrJobNotDone = New(http.StatusConflict, "job_not_completed", "Job has not completed yet")

	ErrBadRequest      = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrFileTooLarge    = New(http.StatusRequestEntityTooLarge, "file_too_large", "Uploaded file exceeds the size limit")
	ErrUnsupportedType = New(http.StatusUnsupportedMediaType, "unsupported_media_type", "Unsupported media type")

	ErrInternal = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase = New(http.StatusInternalServerError, "database_error", "Database operation failed")
)

// NewNotFound names the missing resource: `job '42' not found`.
func NewNotFound(resource, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resource, id))
}

// NewInternal wraps an unexpected failure with a caller-facing message.
func NewInternal(message string, err error) *Error {
	return ErrInternal.WithMessage(message).WithInternal(err)
}

// ToHTTPError renders any error as a status code plus response body,
// treating non-*Error values as opaque internal failures.
func ToHTTPError(err error) (int, map[string]any) {
	appErr, ok := err.(*Error)
	if !ok {
		appErr = ErrInternal
	}
	return appErr.HTTPStatus, map[string]any{
		"error": map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	}
}
