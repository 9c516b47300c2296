package errors

import (
	"fmt"
)

// MultivecError is the structured error type for Multivec.
// It provides rich context for error handling, logging, and API responses
// without leaking internal stack traces.
type MultivecError struct {
	// Code is the unique error code (e.g., "ERR_302_MODEL_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Upstream, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs,
	// e.g. the offending model alias or collection name.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried by the caller.
	Retryable bool
}

// Error implements the error interface.
func (e *MultivecError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MultivecError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with MultivecError.
func (e *MultivecError) Is(target error) bool {
	if t, ok := target.(*MultivecError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *MultivecError) WithDetail(key, value string) *MultivecError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new MultivecError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *MultivecError {
	return &MultivecError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a MultivecError from an existing error.
// The error's message becomes the MultivecError message.
func Wrap(code string, err error) *MultivecError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *MultivecError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *MultivecError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a persistence-related error.
func StorageError(message string, cause error) *MultivecError {
	return New(ErrCodeStorage, message, cause)
}

// UpstreamError creates a transient backend error.
// Upstream errors are retried internally before surfacing.
func UpstreamError(message string, cause error) *MultivecError {
	return New(ErrCodeUpstream, message, cause)
}

// ModelUnavailableError creates an error for a model that is not ready.
func ModelUnavailableError(alias string, cause error) *MultivecError {
	e := New(ErrCodeModelUnavailable, fmt.Sprintf("model %q is not available", alias), cause)
	return e.WithDetail("model", alias)
}

// SearchUnavailableError creates an error for a search where every
// per-model branch failed.
func SearchUnavailableError(message string, cause error) *MultivecError {
	return New(ErrCodeSearchUnavailable, message, cause)
}

// ConflictError creates an error for an overlapping concurrent operation.
func ConflictError(message string) *MultivecError {
	return New(ErrCodeConflict, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *MultivecError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a MultivecError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MultivecError); ok {
		return me.Retryable
	}
	return false
}

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool {
	return GetCode(err) == ErrCodeConflict
}

// GetCode extracts the error code from a MultivecError.
// Returns empty string if not a MultivecError.
func GetCode(err error) string {
	if me, ok := err.(*MultivecError); ok {
		return me.Code
	}
	return ""
}

// GetCategory extracts the category from a MultivecError.
// Returns empty string if not a MultivecError.
func GetCategory(err error) Category {
	if me, ok := err.(*MultivecError); ok {
		return me.Category
	}
	return ""
}
