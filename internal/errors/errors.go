// Package errors provides structured error types for the mlxp toolkit.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by toolkit component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryAllocation ErrorCategory = "ALLOCATION"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryTracking   ErrorCategory = "TRACKING"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidKey       = "INVALID_KEY"
	CodeInvalidRunID     = "INVALID_RUN_ID"
	CodeReservedLogName  = "RESERVED_LOG_NAME"

	// Allocation codes
	CodeAllocationRace      = "ALLOCATION_RACE"
	CodeAllocationExhausted = "ALLOCATION_EXHAUSTED"

	// Catalog codes
	CodeRunNotFound     = "RUN_NOT_FOUND"
	CodeMetadataMissing = "METADATA_MISSING"
	CodeSchemaMismatch  = "SCHEMA_MISMATCH"

	// Query codes
	CodeParseError        = "PARSE_ERROR"
	CodeUnsupportedSyntax = "UNSUPPORTED_SYNTAX"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Tracking codes
	CodeWriteFailed        = "WRITE_FAILED"
	CodeCheckpointNotFound = "CHECKPOINT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MlxpError is the structured error type used throughout the toolkit.
type MlxpError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MlxpError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MlxpError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MlxpError) Is(target error) bool {
	var t *MlxpError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MlxpError.
func New(category ErrorCategory, code, message string) *MlxpError {
	return &MlxpError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new MlxpError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MlxpError {
	return &MlxpError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MlxpError) WithDetails(details map[string]interface{}) *MlxpError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MlxpError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MlxpError.
func GetCategory(err error) ErrorCategory {
	var me *MlxpError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MlxpError.
func GetCode(err error) string {
	var me *MlxpError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Allocation races
// and transient storage failures retry; everything else is terminal.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryAllocation && code == CodeAllocationRace:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *MlxpError {
	return New(ErrCategoryValidation, code, message)
}

func NewAllocationError(code, message string, cause error) *MlxpError {
	return Wrap(ErrCategoryAllocation, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *MlxpError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewQueryError(code, message string) *MlxpError {
	return New(ErrCategoryQuery, code, message)
}

func NewStorageError(code, message string, cause error) *MlxpError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewTrackingError(code, message string, cause error) *MlxpError {
	return Wrap(ErrCategoryTracking, code, message, cause)
}

func NewInternalError(message string, cause error) *MlxpError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
