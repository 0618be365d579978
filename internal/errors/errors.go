// Package errors provides structured error types for qgate.
// Every error carries a category, code, message, and retryable flag so the
// dispatcher, cache, and protocol layers can classify faults the same way and
// report a stable code to clients.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the subsystem that raised them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryProtocol   ErrorCategory = "PROTOCOL"
	ErrCategoryExecution  ErrorCategory = "EXECUTION"
	ErrCategoryCache      ErrorCategory = "CACHE"
	ErrCategoryPool       ErrorCategory = "POOL"
	ErrCategoryReport     ErrorCategory = "REPORT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Protocol codes
	CodeBadHandshake   = "BAD_HANDSHAKE"
	CodeBadMaintenance = "BAD_MAINTENANCE"
	CodeTransport      = "TRANSPORT"

	// Execution codes
	CodeQueryFailed   = "QUERY_FAILED"
	CodeSessionBroken = "SESSION_BROKEN"
	CodePanic         = "PANIC"

	// Cache codes
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"
	CodeCorruptEntry     = "CORRUPT_ENTRY"

	// Pool codes
	CodePoolClosed = "POOL_CLOSED"
	CodeOpenFailed = "OPEN_FAILED"

	// Report codes
	CodeRenderFailed = "RENDER_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// QGateError is the structured error type used throughout the system.
type QGateError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *QGateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *QGateError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *QGateError) Is(target error) bool {
	var t *QGateError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new QGateError.
func New(category ErrorCategory, code, message string) *QGateError {
	return &QGateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new QGateError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *QGateError {
	return &QGateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var qe *QGateError
	if errors.As(err, &qe) {
		return qe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a QGateError.
func GetCategory(err error) ErrorCategory {
	var qe *QGateError
	if errors.As(err, &qe) {
		return qe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a QGateError.
func GetCode(err error) string {
	var qe *QGateError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// isRetryable reports which faults a caller may reasonably retry.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryExecution && code == CodeSessionBroken:
		return true
	case category == ErrCategoryCache && code == CodeCacheUnavailable:
		return true
	case category == ErrCategoryPool && code == CodeOpenFailed:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *QGateError {
	return New(ErrCategoryValidation, code, message)
}

func NewProtocolError(code, message string, cause error) *QGateError {
	return Wrap(ErrCategoryProtocol, code, message, cause)
}

func NewExecutionError(code, message string, cause error) *QGateError {
	return Wrap(ErrCategoryExecution, code, message, cause)
}

func NewCacheError(code, message string, cause error) *QGateError {
	return Wrap(ErrCategoryCache, code, message, cause)
}

func NewPoolError(code, message string, cause error) *QGateError {
	return Wrap(ErrCategoryPool, code, message, cause)
}

func NewReportError(code, message string, cause error) *QGateError {
	return Wrap(ErrCategoryReport, code, message, cause)
}

func NewStorageError(code, message string, cause error) *QGateError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}
