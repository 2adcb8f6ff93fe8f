package errors

import (
	"errors"
	"net/http"
)

// Standard error types
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("resource conflict")
	ErrInternal           = errors.New("internal server error")
	ErrTemporaryFailure   = errors.New("temporary failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrAssetStore         = errors.New("asset store failure")
	ErrPersistence        = errors.New("persistence failure")
)

// Error codes carried by AppError so clients can tell failures apart
const (
	CodeMissingField          = "MissingField"
	CodeMissingRequiredFields = "MissingRequiredFields"
	CodeInvalidSizesFormat    = "InvalidSizesFormat"
	CodeNegativeValue         = "NegativeValue"
	CodeInvalidItemFormat     = "InvalidItemFormat"
	CodeInvalidPayload        = "InvalidPayload"
	CodeInvalidStatus         = "InvalidStatus"
	CodeInvalidTransition     = "InvalidTransition"
	CodeUnknownProduct        = "UnknownProduct"
	CodeUnknownSize           = "UnknownSize"
	CodeUnknownDetail         = "UnknownDetail"
	CodeDuplicateOption       = "DuplicateOption"
	CodeDuplicateName         = "DuplicateName"
	CodeDuplicateOrderID      = "DuplicateOrderID"
	CodeNotFound              = "NotFound"
	CodeUnauthorized          = "Unauthorized"
	CodeForbidden             = "Forbidden"
	CodeAssetStore            = "AssetStore"
	CodePersistence           = "Persistence"
	CodeSweepInProgress       = "SweepInProgress"
	CodeStatusChanged         = "StatusChanged"
)

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	Code       string
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode sets the machine readable error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return errors.Is(err, ErrTemporaryFailure) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// CodeOf returns the code of the first AppError in the chain, or "" when none is present
func CodeOf(err error) string {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// StatusCodeOf maps an error to an HTTP status code
func StatusCodeOf(err error) int {
	var appErr *AppError

	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates an invalid input error with a code
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrInvalidInput, message, http.StatusBadRequest, false).WithCode(code)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false).WithCode(CodeNotFound)
}

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrInvalidInput, message, http.StatusBadRequest, false).WithCode(CodeInvalidPayload)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrUnauthorized, message, http.StatusUnauthorized, false).WithCode(CodeUnauthorized)
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrForbidden, message, http.StatusForbidden, false).WithCode(CodeForbidden)
}

// NewConflictError creates a conflict error
func NewConflictError(code, message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict, false).WithCode(code)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError, true)
}

// NewTemporaryError creates a temporary error
func NewTemporaryError(message string) *AppError {
	return NewAppError(ErrTemporaryFailure, message, http.StatusServiceUnavailable, true)
}

// NewPersistenceError wraps a store failure. It is never swallowed by callers.
func NewPersistenceError(message string, cause error) *AppError {
	return NewAppError(ErrPersistence, message, http.StatusInternalServerError, true).
		WithCode(CodePersistence).
		WithContext("cause", cause.Error())
}

// NewAssetStoreError wraps an asset store failure. It is reported but does not fail the primary write.
func NewAssetStoreError(message string, cause error) *AppError {
	appErr := NewAppError(ErrAssetStore, message, http.StatusBadGateway, true).WithCode(CodeAssetStore)

	if cause != nil {
		appErr.WithContext("cause", cause.Error())
	}
	return appErr
}
