// Package errors provides standardized API and delivery error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Result codes surfaced to integration callers. These are stable strings,
// not OS exit codes.
const (
	CodeAuthFailed         = "AUTH_FAILED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeDeliveryTimeout    = "DELIVERY_TIMEOUT"
	CodeConnectionError    = "DELIVERY_CONNECTION_ERROR"
	CodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeHTTPError          = "HTTP_ERROR"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// Standard error definitions
var (
	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrConflict is returned when a resource is contended or already exists.
	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "Resource conflict",
		StatusCode: http.StatusConflict,
	}
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// NewValidationErrors creates a validation error covering multiple fields.
func NewValidationErrors(fields map[string]string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    fields,
	}
}

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "not_found",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal if the error is not an APIError.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}

// StoreError indicates the distributed state store could not complete an
// operation. Reads against the store may fail open; writes surface this error.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps a store failure with its operation and key.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// TimestampError indicates an update carried a timestamp that could not be
// parsed. Conflict resolution never guesses on malformed timestamps.
type TimestampError struct {
	Value string
	Err   error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: %v", e.Value, e.Err)
}

func (e *TimestampError) Unwrap() error { return e.Err }

// SyncError wraps a failure during a cross-system sync with enough context
// for an operator to retry manually.
type SyncError struct {
	IssueID string
	Source  string
	Target  string
	Op      string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s issue %s (%s->%s): %v", e.Op, e.IssueID, e.Source, e.Target, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// LockError indicates an advisory lock could not be acquired or released.
type LockError struct {
	Resource string
	Err      error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %q: %v", e.Resource, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }
