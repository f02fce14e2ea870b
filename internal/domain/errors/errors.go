// Package errors defines the errors of the schoolsync offline core.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNoCachedData      = errors.New("no cached data available")
	ErrStoreUnavailable  = errors.New("durable store unavailable")
	ErrInvalidMutation   = errors.New("invalid mutation")
	ErrNotFound          = errors.New("record not found")
	ErrOffline           = errors.New("device is offline")
	ErrDrainInProgress   = errors.New("drain already in progress")
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// ErrorCode categorizes a SchoolsyncError.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIG"
)

// SchoolsyncError is an error carrying a code and an optional cause.
type SchoolsyncError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *SchoolsyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SchoolsyncError) Unwrap() error {
	return e.Cause
}

// Is matches another SchoolsyncError with the same code, so callers can
// test errors.Is(err, &SchoolsyncError{Code: CodeValidation}).
func (e *SchoolsyncError) Is(target error) bool {
	t, ok := target.(*SchoolsyncError)
	return ok && t.Code == e.Code
}

// NewError returns a SchoolsyncError.
func NewError(code ErrorCode, message string, cause error) *SchoolsyncError {
	return &SchoolsyncError{Code: code, Message: message, Cause: cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
