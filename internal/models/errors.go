package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced to callers
type ErrorCode string

const (
	CodeInvalidRequest      ErrorCode = "invalid_request"
	CodeProviderUnavailable ErrorCode = "provider_unavailable"
	CodeProviderTimeout     ErrorCode = "provider_timeout"
	CodeProviderError       ErrorCode = "provider_error"
	CodeMatrixError         ErrorCode = "matrix_error"
	CodeInternalError       ErrorCode = "internal_error"
)

// Error is the typed failure returned by every caller-facing operation
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed error
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidRequest is shorthand for an invalid_request error
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, treating unknown errors as internal
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}
