package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
	"github.com/hookbridge/hookbridge/internal/pkg/response"
	"github.com/hookbridge/hookbridge/internal/repository"
	"github.com/hookbridge/hookbridge/internal/webhook"
)

// DeadLetterHandler exposes the in-process dead letter queue for
// inspection and replay.
type DeadLetterHandler struct {
	dlq       *webhook.DeadLetterQueue
	deliverer *webhook.Deliverer
	subs      repository.SubscriptionRepository
}

// NewDeadLetterHandler creates a new dead letter handler.
func NewDeadLetterHandler(dlq *webhook.DeadLetterQueue, deliverer *webhook.Deliverer, subs repository.SubscriptionRepository) *DeadLetterHandler {
	return &DeadLetterHandler{dlq: dlq, deliverer: deliverer, subs: subs}
}

// Routes returns a chi router with dead letter routes.
func (h *DeadLetterHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Delete("/", h.Clear)
	r.Post("/{deliveryID}/replay", h.Replay)
	r.Delete("/{deliveryID}", h.Remove)

	return r
}

// List handles GET /v1/dead-letters. An optional subscription_id query
// parameter narrows the listing.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("subscription_id"); raw != "" {
		subID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, apierrors.NewValidationError("subscription_id", "invalid UUID format"))
			return
		}
		response.OK(w, h.dlq.GetBySubscription(subID))
		return
	}
	response.OK(w, h.dlq.GetAll())
}

// ReplayResponse reports the outcome of a dead letter replay.
type ReplayResponse struct {
	DeliveryID string `json:"delivery_id"`
	Success    bool   `json:"success"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// Replay handles POST /v1/dead-letters/{deliveryID}/replay. The entry is
// removed from the queue and redelivered against the subscription's current
// configuration; a failed replay re-enters the queue through the engine.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")

	entry := h.dlq.Remove(deliveryID)
	if entry == nil {
		response.NotFound(w, "Dead letter")
		return
	}

	sub, err := h.subs.GetByID(r.Context(), entry.Delivery.SubscriptionID)
	if err != nil {
		response.Error(w, err)
		return
	}
	if sub == nil {
		response.NotFound(w, "Subscription")
		return
	}

	result, err := h.deliverer.Deliver(r.Context(), sub, entry.Event)
	if err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, ReplayResponse{
		DeliveryID: result.DeliveryID,
		Success:    result.Success,
		ErrorCode:  result.ErrorCode,
	})
}

// Remove handles DELETE /v1/dead-letters/{deliveryID}
func (h *DeadLetterHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if entry := h.dlq.Remove(chi.URLParam(r, "deliveryID")); entry == nil {
		response.NotFound(w, "Dead letter")
		return
	}
	response.NoContent(w)
}

// Clear handles DELETE /v1/dead-letters
func (h *DeadLetterHandler) Clear(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]int{"removed": h.dlq.Clear()})
}
