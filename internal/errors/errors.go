package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured pipeline error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of the
// innermost AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// GetCode returns the code of the first AppError in the chain, or "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeRetrieval       = "RETRIEVAL_ERROR"
	CodeFormat          = "FORMAT_ERROR"
	CodeGroupAssignment = "GROUP_ASSIGNMENT_ERROR"
	CodeStorage         = "STORAGE_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

// Retrieval reports an unavailable or corrupt remote source. Callers can fall
// back to a manually supplied local file.
func Retrieval(source string, cause error) *AppError {
	return &AppError{
		Code:    CodeRetrieval,
		Message: fmt.Sprintf("could not retrieve %s (set source.local_file to use a downloaded copy)", source),
		Cause:   cause,
	}
}

func Format(message string) *AppError {
	return New(CodeFormat, message)
}

func Formatf(format string, args ...interface{}) *AppError {
	return New(CodeFormat, fmt.Sprintf(format, args...))
}

func GroupAssignment(sampleID, message string) *AppError {
	if sampleID == "" {
		return New(CodeGroupAssignment, message)
	}
	return New(CodeGroupAssignment, fmt.Sprintf("sample %s: %s", sampleID, message))
}

func Storage(key string, cause error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: fmt.Sprintf("artifact %s", key),
		Cause:   cause,
	}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}
