// Package response writes the JSON envelope every API handler uses. Event
// ingest, subscription management, dead letter inspection and sync
// triggers all answer with the same {data}/{error} shape.
package response

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

// Envelope is the response body shape. Exactly one of Data and Error is
// set.
type Envelope struct {
	Data  any `json:"data,omitempty"`
	Error any `json:"error,omitempty"`
}

// JSON writes a data envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Data: data}); err != nil {
		// Headers are already out; nothing useful left to do.
		http.Error(w, `{"error":{"code":"internal_error","message":"Failed to encode response"}}`, http.StatusInternalServerError)
	}
}

// Error writes an error envelope. Non-API errors are wrapped as internal
// errors so raw failure details never reach subscribers.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)
	ErrorWithStatus(w, apiErr.StatusCode, apiErr)
}

// ErrorWithStatus writes an error envelope with an explicit status code,
// for cases like lock contention where the transport status differs from
// the error's default.
func ErrorWithStatus(w http.ResponseWriter, status int, err error) {
	apiErr := apierrors.AsAPIError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Error: apiErr})
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Accepted writes a 202 Accepted response. Event ingestion answers with
// this before the fan-out runs.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// NotFound writes a 404 Not Found error response for the named resource.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, apierrors.NewNotFoundError(resource))
}
