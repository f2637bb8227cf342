// Package apperrors provides the core's single error type and its
// constructors. Per-reading failures never propagate as raw Go errors from
// the coordinator: they are recorded into bounded error histories and
// surfaced via counters and events. The Query/Admin HTTP surface still
// needs a uniform shape to translate failures into JSON responses.
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError is a standardized error with a machine-readable code, an HTTP
// status for the Query/Admin surface, and an optional wrapped internal
// error that is never exposed to callers.
type AppError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Status      int                    `json:"-"`
	InternalErr error                  `json:"-"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.InternalErr != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.InternalErr)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.InternalErr
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithInternal(err error) *AppError {
	e.InternalErr = err
	return e
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s not found", resource), Status: http.StatusNotFound}
}

// NewUnauthorizedError creates a new unauthorized error.
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized access"
	}
	return &AppError{Code: "UNAUTHORIZED", Message: message, Status: http.StatusUnauthorized}
}

// NewForbiddenError creates a new forbidden error.
func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "access forbidden"
	}
	return &AppError{Code: "FORBIDDEN", Message: message, Status: http.StatusForbidden}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *AppError {
	if message == "" {
		message = "validation failed"
	}
	return &AppError{Code: "VALIDATION_ERROR", Message: message, Status: http.StatusBadRequest}
}

// NewBadRequestError creates a new bad request error.
func NewBadRequestError(message string) *AppError {
	if message == "" {
		message = "bad request"
	}
	return &AppError{Code: "BAD_REQUEST", Message: message, Status: http.StatusBadRequest}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string) *AppError {
	if message == "" {
		message = "resource conflict"
	}
	return &AppError{Code: "CONFLICT", Message: message, Status: http.StatusConflict}
}

// NewInternalError creates a new internal server error.
func NewInternalError(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{Code: "INTERNAL_ERROR", Message: message, Status: http.StatusInternalServerError}
}

// NewTooManyRequestsError creates a new rate limit error.
func NewTooManyRequestsError(message string) *AppError {
	if message == "" {
		message = "too many requests"
	}
	return &AppError{Code: "TOO_MANY_REQUESTS", Message: message, Status: http.StatusTooManyRequests}
}

// NewServiceUnavailableError creates a new service unavailable error.
func NewServiceUnavailableError(message string) *AppError {
	if message == "" {
		message = "service temporarily unavailable"
	}
	return &AppError{Code: "SERVICE_UNAVAILABLE", Message: message, Status: http.StatusServiceUnavailable}
}

// NewInvalidReadingError reports a reading channel rejected by a range or
// rate-of-change check. Callers drop the channel, not the whole reading.
func NewInvalidReadingError(channel, reason string) *AppError {
	return &AppError{
		Code:    "INVALID_READING",
		Message: fmt.Sprintf("channel %s rejected: %s", channel, reason),
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]interface{}{"channel": channel, "reason": reason},
	}
}

// NewStaleReadingError reports an out-of-order or duplicate reading dropped
// by the coordinator's ordering check.
func NewStaleReadingError(truckID string, reason string) *AppError {
	return &AppError{
		Code:    "STALE_READING",
		Message: fmt.Sprintf("reading for %s dropped: %s", truckID, reason),
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]interface{}{"truck_id": truckID, "reason": reason},
	}
}

// Predefined common errors.
var (
	ErrNotFound           = &AppError{Code: "NOT_FOUND", Message: "resource not found", Status: http.StatusNotFound}
	ErrUnauthorized       = &AppError{Code: "UNAUTHORIZED", Message: "unauthorized access", Status: http.StatusUnauthorized}
	ErrForbidden          = &AppError{Code: "FORBIDDEN", Message: "access forbidden", Status: http.StatusForbidden}
	ErrValidation         = &AppError{Code: "VALIDATION_ERROR", Message: "validation failed", Status: http.StatusBadRequest}
	ErrBadRequest         = &AppError{Code: "BAD_REQUEST", Message: "bad request", Status: http.StatusBadRequest}
	ErrConflict           = &AppError{Code: "CONFLICT", Message: "resource conflict", Status: http.StatusConflict}
	ErrInternal           = &AppError{Code: "INTERNAL_ERROR", Message: "internal server error", Status: http.StatusInternalServerError}
	ErrTooManyRequests    = &AppError{Code: "TOO_MANY_REQUESTS", Message: "too many requests", Status: http.StatusTooManyRequests}
	ErrServiceUnavailable = &AppError{Code: "SERVICE_UNAVAILABLE", Message: "service temporarily unavailable", Status: http.StatusServiceUnavailable}
)

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error, or wraps it as a generic
// internal error.
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return &AppError{Code: "INTERNAL_ERROR", Message: "internal server error", Status: http.StatusInternalServerError, InternalErr: err}
}

// Wrap wraps an error with a message and converts it to AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = message
		return appErr
	}
	return &AppError{Code: "INTERNAL_ERROR", Message: message, Status: http.StatusInternalServerError, InternalErr: err}
}

// WrapWithCode wraps an error with a custom code, message, and status.
func WrapWithCode(err error, code string, message string, status int) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Status: status, InternalErr: err}
}
