package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

const (
	// ErrValidation indicates bad input. Never retried.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrAuthentication indicates missing or invalid credentials. Never retried.
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	// ErrPermission indicates the caller is not allowed to act on the resource.
	ErrPermission ErrorCode = "PERMISSION"
	// ErrNotFound indicates an unregistered provider or operation.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrConflict indicates an idempotency key reused with different parameters.
	ErrConflict ErrorCode = "CONFLICT"
	// ErrRateLimited indicates a denied rate-limit acquisition. Retryable after RetryAfter.
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrProvider indicates a provider-reported failure. Retryable when the
	// provider marks it transient.
	ErrProvider ErrorCode = "PROVIDER_ERROR"
	// ErrTimeout indicates a provider call exceeded its deadline. Retryable.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrInternal indicates an unexpected internal failure. Retryable with backoff.
	ErrInternal ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Provider   string        `json:"provider,omitempty"`
	Cause      error         `json:"-"`
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
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRetryAfter sets the caller-facing retry hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// RetryAfterOf extracts the retry hint from an error, or zero.
func RetryAfterOf(err error) time.Duration {
	if e, ok := AsError(err); ok {
		return e.RetryAfter
	}
	return 0
}
