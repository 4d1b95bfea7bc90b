// Package errors defines the error codes exchanged across the sync HTTP boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure in responses and logs
type ErrorCode string

const (
	ErrInternal         ErrorCode = "INTERNAL_ERROR"
	ErrInvalid          ErrorCode = "INVALID_INPUT"
	ErrUnknownEntity    ErrorCode = "UNKNOWN_ENTITY"
	ErrTenantMismatch   ErrorCode = "TENANT_MISMATCH"
	ErrTenantRequired   ErrorCode = "TENANT_REQUIRED"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrDatabase         ErrorCode = "DATABASE_ERROR"

	ErrSyncDisabled ErrorCode = "SYNC_DISABLED"
	ErrSyncOffline  ErrorCode = "SYNC_OFFLINE"
	ErrSyncFailed   ErrorCode = "SYNC_FAILED"
	ErrSyncTimeout  ErrorCode = "SYNC_TIMEOUT"
)

// AppError carries a code next to the underlying error
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
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain is an AppError with the given code
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HTTPStatus maps a code to the status the HTTP layer answers with.
// Clients treat every 4xx as permanent and do not retry it.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrInvalid, ErrUnknownEntity, ErrTenantMismatch, ErrTenantRequired:
		return http.StatusBadRequest
	case ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrSyncTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
