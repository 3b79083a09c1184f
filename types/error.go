package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrInvalidInput marks a caller error. Surfaced immediately, never retried.
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrTimeout marks an external call that exceeded its deadline. Retryable.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrTransientAPI marks a recoverable upstream failure (5xx, rate limit). Retryable.
	ErrTransientAPI ErrorCode = "TRANSIENT_API_ERROR"
	// ErrInvalidResponseFormat marks an unparseable upstream response. Terminal.
	ErrInvalidResponseFormat ErrorCode = "INVALID_RESPONSE_FORMAT"
	// ErrValidation marks semantically invalid data from an upstream service. Terminal.
	ErrValidation ErrorCode = "VALIDATION_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
// The retryable flag is derived from the code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code == ErrTimeout || code == ErrTransientAPI,
	}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
