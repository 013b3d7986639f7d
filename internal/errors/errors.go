// Package errors defines the error codes surfaced by the local store.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Persisted bytes do not parse as a database image.
	ErrCorruptState ErrorCode = "CORRUPT_STATE"
	// The durable store cannot be read or written.
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	// Malformed SQL, constraint violation or malformed stored JSON.
	ErrQuery ErrorCode = "QUERY_ERROR"

	ErrNotReady     ErrorCode = "NOT_READY"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrInvalid      ErrorCode = "INVALID_INPUT"
	ErrImportFailed ErrorCode = "IMPORT_FAILED"
)

// AppError is an error carrying an ErrorCode.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// Code returns the code of the first AppError in err's chain, or "" if none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
