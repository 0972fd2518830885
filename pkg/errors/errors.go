package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Authentication / authorization errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Not found errors
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound         ErrorCode = "USER_NOT_FOUND"
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrCodeSessionNotFound      ErrorCode = "CALL_SESSION_NOT_FOUND"

	// Conflict errors
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeSessionEnded ErrorCode = "CALL_SESSION_ENDED"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeStorage        ErrorCode = "STORAGE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message.
// The status code defaults to 500 Internal Server Error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// Wrap creates an AppError wrapping an underlying error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WithStatus sets the HTTP status code
func (e *AppError) WithStatus(status int) *AppError {
	e.StatusCode = status
	return e
}

// WithDetails attaches arbitrary detail data
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// BadRequest builds a 400 validation error
func BadRequest(message string) *AppError {
	return New(ErrCodeValidation, message).WithStatus(http.StatusBadRequest)
}

// Unauthorized builds a 401 error
func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message).WithStatus(http.StatusUnauthorized)
}

// Forbidden builds a 403 error
func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message).WithStatus(http.StatusForbidden)
}

// NotFound builds a 404 error with the given code
func NotFound(code ErrorCode, message string) *AppError {
	return New(code, message).WithStatus(http.StatusNotFound)
}

// Conflict builds a 409 error with the given code
func Conflict(code ErrorCode, message string) *AppError {
	return New(code, message).WithStatus(http.StatusConflict)
}
