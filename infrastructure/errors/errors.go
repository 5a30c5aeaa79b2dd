// Package errors provides unified, structured error handling for the
// discovery pipeline.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeExternalAPI       ErrorCode = "SVC_5004"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"

	// Adapter errors (8xxx) — the taxonomy surfaced by the Search Adapter Set
	ErrCodeAdapterRateLimited     ErrorCode = "ADP_8001"
	ErrCodeAdapterTimeout         ErrorCode = "ADP_8002"
	ErrCodeAdapterAuthFailed      ErrorCode = "ADP_8003"
	ErrCodeAdapterNetworkError    ErrorCode = "ADP_8004"
	ErrCodeAdapterInvalidResponse ErrorCode = "ADP_8005"
	ErrCodeAdapterCircuitOpen     ErrorCode = "ADP_8006"
	ErrCodeAdapterUnknown         ErrorCode = "ADP_8007"
	ErrCodeModelUnavailable       ErrorCode = "ADP_8008"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "Invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "Value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "Resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "Database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func ExternalAPIError(service string, err error) *ServiceError {
	return Wrap(ErrCodeExternalAPI, "External API call failed", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "Operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Adapter errors — the taxonomy spec.md §7 requires every search adapter to
// surface, plus the two constructors the Search Orchestrator and Candidate
// Processor need for conflicts that are resolved internally rather than
// surfaced as failures.

func AdapterRateLimited(engine string, err error) *ServiceError {
	return Wrap(ErrCodeAdapterRateLimited, "adapter rate limited", http.StatusTooManyRequests, err).
		WithDetails("engine", engine)
}

func AdapterTimeout(engine string, err error) *ServiceError {
	return Wrap(ErrCodeAdapterTimeout, "adapter call timed out", http.StatusGatewayTimeout, err).
		WithDetails("engine", engine)
}

func AdapterAuthFailed(engine string, err error) *ServiceError {
	return Wrap(ErrCodeAdapterAuthFailed, "adapter authentication failed", http.StatusBadGateway, err).
		WithDetails("engine", engine)
}

func AdapterNetworkError(engine string, err error) *ServiceError {
	return Wrap(ErrCodeAdapterNetworkError, "adapter network error", http.StatusBadGateway, err).
		WithDetails("engine", engine)
}

func AdapterInvalidResponse(engine string, err error) *ServiceError {
	return Wrap(ErrCodeAdapterInvalidResponse, "adapter returned an invalid response", http.StatusBadGateway, err).
		WithDetails("engine", engine)
}

// CircuitOpenError reports that an adapter's breaker is open; callers never
// reach the network for this call.
func CircuitOpenError(engine string) *ServiceError {
	return New(ErrCodeAdapterCircuitOpen, "circuit breaker open", http.StatusServiceUnavailable).
		WithDetails("engine", engine)
}

func AdapterUnknown(engine string, err error) *ServiceError {
	return Wrap(ErrCodeAdapterUnknown, "adapter call failed", http.StatusBadGateway, err).
		WithDetails("engine", engine)
}

// ModelUnavailableError reports that the language-model endpoint could not be
// reached; query generation falls back to static configuration on this error.
func ModelUnavailableError(err error) *ServiceError {
	return Wrap(ErrCodeModelUnavailable, "language model unavailable", http.StatusBadGateway, err)
}

// PersistenceConflictError reports a uniqueness race on domain registration;
// resolved internally by reloading the existing row, never surfaced to a
// caller as a failure.
func PersistenceConflictError(resource, id string) *ServiceError {
	return New(ErrCodeConflict, "persistence conflict, reload and continue", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
