// Package apperr is the error taxonomy shared by the validator, the harvester,
// the provider adapter and the gateway. The gateway maps Type to an HTTP status
// and decides how much of Message reaches the caller.
package apperr

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ValidationError ErrorType = "VALIDATION_ERROR"
	NotFoundError   ErrorType = "NOT_FOUND"
	UpstreamError   ErrorType = "UPSTREAM_ERROR"
	DecodeError     ErrorType = "DECODE_ERROR"
	TimeoutError    ErrorType = "TIMEOUT_ERROR"
	SizeLimitError  ErrorType = "SIZE_LIMIT_ERROR"
	NetworkError    ErrorType = "NETWORK_ERROR"
	InternalError   ErrorType = "INTERNAL_ERROR"
)

// AppError is a classified failure. Status and Body are only set for
// UpstreamError and hold the upstream HTTP status and response text.
type AppError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Body    string         `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (status %d: %v)", e.Type, e.Message, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Type, e.Message, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewValidationError(msg string) *AppError {
	return &AppError{Type: ValidationError, Message: msg}
}

func NewNotFoundError(msg string, details map[string]any) *AppError {
	return &AppError{Type: NotFoundError, Message: msg, Details: details}
}

// NewUpstreamError records a non-2xx answer from GitHub or an LLM provider.
func NewUpstreamError(msg string, status int, body string) *AppError {
	return &AppError{Type: UpstreamError, Message: msg, Status: status, Body: body}
}

func NewDecodeError(msg string, err error) *AppError {
	return &AppError{Type: DecodeError, Message: msg, Err: err}
}

func NewTimeoutError(msg string, err error) *AppError {
	return &AppError{Type: TimeoutError, Message: msg, Err: err}
}

func NewSizeLimitError(msg string, limit int64) *AppError {
	return &AppError{Type: SizeLimitError, Message: msg, Details: map[string]any{"limit_bytes": limit}}
}

func NewNetworkError(msg string, err error) *AppError {
	return &AppError{Type: NetworkError, Message: msg, Err: err}
}

func NewInternalError(msg string, err error) *AppError {
	return &AppError{Type: InternalError, Message: msg, Err: err}
}

// IsType reports whether any error in err's chain is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// As returns the first *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
