package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the companion core.
type ErrorCode string

// Pipeline error codes
const (
	ErrRateLimitExceeded      ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrContentBlocked         ErrorCode = "CONTENT_BLOCKED"
	ErrOutputBlocked          ErrorCode = "OUTPUT_BLOCKED"
	ErrAgentNotFound          ErrorCode = "AGENT_NOT_FOUND"
	ErrConversationNotFound   ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrStorageFailure         ErrorCode = "STORAGE_FAILURE"
	ErrMemoryExtractionFailed ErrorCode = "MEMORY_EXTRACTION_FAILED"
	ErrInvalidRequest         ErrorCode = "INVALID_REQUEST"
)

// Brain error codes
const (
	ErrEngineTimeout   ErrorCode = "ENGINE_TIMEOUT"
	ErrDuplicateEngine ErrorCode = "DUPLICATE_ENGINE"
	ErrEngineNotFound  ErrorCode = "ENGINE_NOT_FOUND"
	ErrToolNotFound    ErrorCode = "TOOL_NOT_FOUND"
)

// Upstream error codes
const (
	ErrUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamLimited ErrorCode = "UPSTREAM_RATE_LIMITED"
)

// Error represents a structured error with code, message, and cause.
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
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error (or anything it wraps) is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
