package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type ErrorType string

const (
	ErrAuthFailed          ErrorType = "AUTH_FAILED"
	ErrInvalidRequest      ErrorType = "INVALID_REQUEST"
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	ErrRateLimited         ErrorType = "RATE_LIMITED"
	ErrPlatformForbidden   ErrorType = "PLATFORM_FORBIDDEN"
	ErrConversionHalted    ErrorType = "CONVERSION_HALTED"
	ErrReadOnly            ErrorType = "READ_ONLY"
	ErrInProgress          ErrorType = "REQUEST_IN_PROGRESS"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrConflict            ErrorType = "CONFLICT"
	ErrForbidden           ErrorType = "FORBIDDEN"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
)

// genericAuthMessage is the only message an authentication failure ever carries,
// whatever the underlying reason.
const genericAuthMessage = "authentication failed"

// AppError is the standard error struct for the application.
// It renders as the failure envelope: {"success": false, "code": ..., "message": ...}.
type AppError struct {
	Success    bool      `json:"success"`
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`

	// Only set on RATE_LIMITED.
	RetryAfter *int64 `json:"retryAfter,omitempty"`
	Limit      *int   `json:"limit,omitempty"`

	HTTPStatus int   `json:"-"`
	Cause      error `json:"-"`
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

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

// NewAuthFailed hides the cause from the caller; it is kept for logging only.
func NewAuthFailed(cause error) *AppError {
	return New(ErrAuthFailed, genericAuthMessage, cause)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewInsufficientBalance(msg string) *AppError {
	return New(ErrInsufficientBalance, msg, nil)
}

func NewPlatformForbidden(msg string) *AppError {
	return New(ErrPlatformForbidden, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

// NewRateLimited carries the retry-after (whole seconds, rounded up) and the configured budget.
func NewRateLimited(retryAfter time.Duration, limit int) *AppError {
	secs := int64((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	e := New(ErrRateLimited, "rate limit exceeded", nil)
	e.RetryAfter = &secs
	e.Limit = &limit
	return e
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, "internal error", err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrPlatformForbidden, ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInProgress, ErrConflict:
		return http.StatusConflict
	case ErrInsufficientBalance:
		return http.StatusUnprocessableEntity
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrConversionHalted, ErrReadOnly:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrAuthFailed:
		return "Check the platform token, timestamp and request signature."
	case ErrInsufficientBalance:
		return "Reduce the withdrawal amount."
	case ErrRateLimited:
		return "Retry after the indicated number of seconds."
	case ErrPlatformForbidden:
		return "Contact the operator to enable this platform."
	case ErrInProgress:
		return "Retry the request with the same nonce."
	case ErrConversionHalted, ErrReadOnly:
		return "Wait for system recovery."
	default:
		return ""
	}
}
