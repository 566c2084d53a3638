// Package core defines sentinel errors and typed error codes.
package core

import "errors"

// ErrorCode represents a typed error code.
type ErrorCode string

const (
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeQuotaExceeded        ErrorCode = "QUOTA_EXCEEDED"
	CodeUpstreamUnavailable  ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeInvalidContext       ErrorCode = "INVALID_CONTEXT"
	CodeConfigurationMissing ErrorCode = "CONFIGURATION_MISSING"
	CodeStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
	CodeConflict             ErrorCode = "CONFLICT"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeForbidden            ErrorCode = "FORBIDDEN"
)

// AppError is a typed application error.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap creates a new AppError.
func Wrap(code ErrorCode, msg string, err error) error {
	return &AppError{Code: code, Message: msg, Err: err}
}

// CodeOf returns the ErrorCode for an error.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ErrInvalidInput indicates validation failures.
var ErrInvalidInput = &AppError{Code: CodeInvalidInput, Message: "invalid input"}

// ErrConfigurationMissing indicates no rate limit rule resolves for a resource.
var ErrConfigurationMissing = &AppError{Code: CodeConfigurationMissing, Message: "no rule configured for resource"}

// ErrStoreUnavailable indicates the counter store cannot be reached.
var ErrStoreUnavailable = &AppError{Code: CodeStoreUnavailable, Message: "counter store unavailable"}

// ErrInvalidContext indicates a malformed request context.
var ErrInvalidContext = &AppError{Code: CodeInvalidContext, Message: "invalid request context"}

// ErrConflict indicates optimistic concurrency conflicts.
var ErrConflict = &AppError{Code: CodeConflict, Message: "conflict"}

// ErrNotFound indicates missing resources.
var ErrNotFound = &AppError{Code: CodeNotFound, Message: "not found"}
