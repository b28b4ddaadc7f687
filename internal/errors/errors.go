package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

type ErrorCode string

const (
	ValidationError         ErrorCode = "validation_error"
	AuthenticationError     ErrorCode = "authentication_error"
	RateLimitError          ErrorCode = "rate_limit_error"
	NetworkError            ErrorCode = "network_error"
	ProviderRejectionError  ErrorCode = "provider_rejection_error"
	MaxRetriesExceededError ErrorCode = "max_retries_exceeded"
	UnknownProviderError    ErrorCode = "unknown_provider"
	InvalidTransition       ErrorCode = "invalid_transition"
	NotFound                ErrorCode = "not_found"
	Conflict                ErrorCode = "conflict"
	FeatureDisabled         ErrorCode = "feature_disabled"
	InternalError           ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	// Fields carries per-field validation messages or remote validation errors.
	Fields []string `json:"fields,omitempty"`
	// RetryAfter is set on rate limit errors when the provider sent a hint.
	RetryAfter time.Duration `json:"-"`
	// StatusCode is the upstream HTTP status when the error came from a remote API.
	StatusCode int `json:"-"`

	cause error
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap builds an AppError that keeps err reachable through errors.Is/As.
func Wrap(code ErrorCode, message string, err error) *AppError {
	appErr := &AppError{Code: code, Message: message, cause: err}
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithFields(fields ...string) *AppError {
	e.Fields = append(e.Fields, fields...)
	return e
}

func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

func (e *AppError) WithStatusCode(status int) *AppError {
	e.StatusCode = status
	return e
}

// HTTPStatus maps the error category to the status returned to API callers.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationError, ProviderRejectionError, UnknownProviderError:
		return http.StatusUnprocessableEntity
	case AuthenticationError:
		return http.StatusUnauthorized
	case RateLimitError:
		return http.StatusTooManyRequests
	case NetworkError:
		return http.StatusBadGateway
	case MaxRetriesExceededError, InvalidTransition, Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case FeatureDisabled:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the executor may try the call again.
func (e *AppError) Retryable() bool {
	return e.Code == NetworkError
}

// AsAppError unwraps err into an AppError, falling back to an internal error.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(InternalError, "an unexpected error occurred", err)
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Predefined errors for common cases
var (
	ErrTransactionNotFound    = NewAppError(NotFound, "transaction not found")
	ErrProviderNotFound       = NewAppError(NotFound, "provider not found")
	ErrReconciliationNotFound = NewAppError(NotFound, "reconciliation not found")
	ErrInvoiceNotFound        = NewAppError(NotFound, "smart invoice not found")
	ErrSettingNotFound        = NewAppError(NotFound, "setting not found")
	ErrDuplicateReference     = NewAppError(Conflict, "external reference already exists for provider")
	ErrDuplicateSubmission    = NewAppError(Conflict, "invoice already has an active submission")
	ErrCannotBeginTransaction = NewAppError(InternalError, "cannot begin transaction")
)
