// Package handler provides HTTP handlers for the hookbridge API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hookbridge/hookbridge/internal/pkg/errors"
	"github.com/hookbridge/hookbridge/internal/pkg/response"
	"github.com/hookbridge/hookbridge/internal/webhook"
)

// EventHandler accepts governance events and hands them to the dispatcher.
type EventHandler struct {
	dispatcher *webhook.Dispatcher
	logger     *slog.Logger
	validate   *validator.Validate

	// dispatchTimeout bounds the background fan-out, not the HTTP request.
	dispatchTimeout time.Duration
}

// NewEventHandler creates a new event ingest handler.
func NewEventHandler(dispatcher *webhook.Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		dispatcher:      dispatcher,
		logger:          logger.With(slog.String("component", "event_handler")),
		validate:        validator.New(),
		dispatchTimeout: 5 * time.Minute,
	}
}

// Routes returns a chi router with event routes.
func (h *EventHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Ingest)
	return r
}

// IngestResponse acknowledges an accepted event.
type IngestResponse struct {
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted"`
}

// Ingest handles POST /v1/events. Delivery happens in the background;
// the caller gets a 202 with the event ID once the event is admitted.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req webhook.GovernanceEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, errors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, errors.NewValidationError("event_type", "event_type is required"))
		return
	}

	event, err := req.ToWebhookEvent()
	if err != nil {
		response.Error(w, errors.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.dispatchTimeout)
		defer cancel()
		if _, err := h.dispatcher.Dispatch(ctx, event); err != nil {
			h.logger.Error("background dispatch failed",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()))
		}
	}()

	response.Accepted(w, IngestResponse{EventID: event.ID, Accepted: true})
}
