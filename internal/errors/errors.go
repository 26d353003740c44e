package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of an error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeDataset    ErrorType = "dataset"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeSchema     ErrorType = "schema"
	ErrorTypeBatch      ErrorType = "batch"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// AppError is an error carrying a category and optional key/value context
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Context map[string]any
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(t ErrorType, message string, err error) *AppError {
	return &AppError{
		Type:    t,
		Message: message,
		Err:     err,
		Context: make(map[string]any),
	}
}

func NewValidationError(message string, err error) *AppError {
	return newError(ErrorTypeValidation, message, err)
}

func NewConfigError(message string, err error) *AppError {
	return newError(ErrorTypeConfig, message, err)
}

// NewDatasetError reports a failure to resolve, download or read the dataset
func NewDatasetError(message string, err error) *AppError {
	return newError(ErrorTypeDataset, message, err)
}

func NewNetworkError(message string, err error) *AppError {
	return newError(ErrorTypeNetwork, message, err)
}

// NewSchemaError reports a failure to delete or create a collection
func NewSchemaError(message string, err error) *AppError {
	return newError(ErrorTypeSchema, message, err)
}

// NewBatchError reports a whole-request batch failure
func NewBatchError(message string, err error) *AppError {
	return newError(ErrorTypeBatch, message, err)
}

func NewTimeoutError(message string, err error) *AppError {
	return newError(ErrorTypeTimeout, message, err)
}

// WrapError wraps an error with a category. An existing AppError keeps its
// type and only has its message replaced when one is given.
func WrapError(err error, errorType ErrorType, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if message != "" {
			appErr.Message = message
		}
		return appErr
	}
	return newError(errorType, message, err)
}

// TypeOf returns the category of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err looks like a transient connection problem
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout:
			return true
		default:
			return false
		}
	}
	return containsAny(strings.ToLower(err.Error()), []string{
		"timeout", "connection", "network", "temporary", "unavailable", "eof",
	})
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
