package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
	"github.com/hookbridge/hookbridge/internal/pkg/response"
	"github.com/hookbridge/hookbridge/internal/repository"
)

// SubscriptionHandler handles subscription management requests.
type SubscriptionHandler struct {
	subs       repository.SubscriptionRepository
	deliveries repository.DeliveryRepository
	validate   *validator.Validate
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(subs repository.SubscriptionRepository, deliveries repository.DeliveryRepository) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:       subs,
		deliveries: deliveries,
		validate:   validator.New(),
	}
}

// Routes returns a chi router with subscription routes.
func (h *SubscriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)

	r.Post("/{id}/activate", h.Activate)
	r.Post("/{id}/pause", h.Pause)

	r.Get("/{id}/deliveries", h.ListDeliveries)

	return r
}

// CreateSubscriptionRequest is the HTTP request body for creating a subscription.
type CreateSubscriptionRequest struct {
	Name               string                 `json:"name" validate:"required,min=1,max=200"`
	Endpoint           models.EndpointConfig  `json:"endpoint" validate:"required"`
	AuthSecret         string                 `json:"auth_secret,omitempty"`
	HMACSecret         string                 `json:"hmac_secret,omitempty"`
	EventTypes         []string               `json:"event_types,omitempty"`
	Severities         []models.Severity      `json:"severities,omitempty"`
	ResourceFilters    map[string][]string    `json:"resource_filters,omitempty"`
	TagFilters         []string               `json:"tag_filters,omitempty"`
	Retry              *models.RetryPolicy    `json:"retry,omitempty"`
	RateLimitPerMinute int                    `json:"rate_limit_per_minute,omitempty"`
}

// Create handles POST /v1/subscriptions
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, validationErrors(err))
		return
	}

	if req.Endpoint.AuthType == models.AuthHMAC && req.HMACSecret == "" {
		response.Error(w, apierrors.NewValidationError("hmac_secret", "hmac auth requires a secret"))
		return
	}

	// State is left unset: the repository starts every subscription in
	// pending_verification, and delivery begins only after /activate.
	sub := &models.WebhookSubscription{
		Name:               req.Name,
		Endpoint:           req.Endpoint,
		EventTypes:         req.EventTypes,
		Severities:         req.Severities,
		ResourceFilters:    req.ResourceFilters,
		TagFilters:         req.TagFilters,
		Retry:              models.DefaultRetryPolicy(),
		RateLimitPerMinute: req.RateLimitPerMinute,
	}
	sub.Endpoint.AuthSecret = req.AuthSecret
	sub.Endpoint.HMACSecret = req.HMACSecret
	if req.Retry != nil {
		sub.Retry = *req.Retry
	}

	if err := h.subs.Create(r.Context(), sub); err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, sub)
}

// List handles GET /v1/subscriptions
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, subs)
}

// Get handles GET /v1/subscriptions/{id}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.fetch(w, r)
	if !ok {
		return
	}
	response.OK(w, sub)
}

// UpdateSubscriptionRequest is the HTTP request body for updating a subscription.
type UpdateSubscriptionRequest struct {
	Name               *string                `json:"name,omitempty"`
	Endpoint           *models.EndpointConfig `json:"endpoint,omitempty"`
	AuthSecret         *string                `json:"auth_secret,omitempty"`
	HMACSecret         *string                `json:"hmac_secret,omitempty"`
	EventTypes         []string               `json:"event_types,omitempty"`
	Severities         []models.Severity      `json:"severities,omitempty"`
	ResourceFilters    map[string][]string    `json:"resource_filters,omitempty"`
	TagFilters         []string               `json:"tag_filters,omitempty"`
	Retry              *models.RetryPolicy    `json:"retry,omitempty"`
	RateLimitPerMinute *int                   `json:"rate_limit_per_minute,omitempty"`
}

// Update handles PUT /v1/subscriptions/{id}
func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.fetch(w, r)
	if !ok {
		return
	}

	var req UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Endpoint != nil {
		secret, hmacSecret := sub.Endpoint.AuthSecret, sub.Endpoint.HMACSecret
		sub.Endpoint = *req.Endpoint
		// Secrets are never echoed back so absent fields keep the stored value
		sub.Endpoint.AuthSecret = secret
		sub.Endpoint.HMACSecret = hmacSecret
	}
	if req.AuthSecret != nil {
		sub.Endpoint.AuthSecret = *req.AuthSecret
	}
	if req.HMACSecret != nil {
		sub.Endpoint.HMACSecret = *req.HMACSecret
	}
	if req.EventTypes != nil {
		sub.EventTypes = req.EventTypes
	}
	if req.Severities != nil {
		sub.Severities = req.Severities
	}
	if req.ResourceFilters != nil {
		sub.ResourceFilters = req.ResourceFilters
	}
	if req.TagFilters != nil {
		sub.TagFilters = req.TagFilters
	}
	if req.Retry != nil {
		sub.Retry = *req.Retry
	}
	if req.RateLimitPerMinute != nil {
		sub.RateLimitPerMinute = *req.RateLimitPerMinute
	}

	if err := h.validate.Struct(sub); err != nil {
		response.Error(w, validationErrors(err))
		return
	}

	if err := h.subs.Update(r.Context(), sub); err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, sub)
}

// Activate handles POST /v1/subscriptions/{id}/activate
func (h *SubscriptionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, models.SubscriptionActive)
}

// Pause handles POST /v1/subscriptions/{id}/pause
func (h *SubscriptionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, models.SubscriptionInactive)
}

func (h *SubscriptionHandler) setState(w http.ResponseWriter, r *http.Request, state models.SubscriptionState) {
	sub, ok := h.fetch(w, r)
	if !ok {
		return
	}

	if err := h.subs.SetState(r.Context(), sub.ID, state); err != nil {
		response.Error(w, err)
		return
	}
	sub.State = state
	response.OK(w, sub)
}

// Delete handles DELETE /v1/subscriptions/{id}
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.fetch(w, r)
	if !ok {
		return
	}

	if err := h.subs.Delete(r.Context(), sub.ID); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// ListDeliveries handles GET /v1/subscriptions/{id}/deliveries
func (h *SubscriptionHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.fetch(w, r)
	if !ok {
		return
	}

	deliveries, err := h.deliveries.ListBySubscription(r.Context(), sub.ID, 0)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, deliveries)
}

func (h *SubscriptionHandler) fetch(w http.ResponseWriter, r *http.Request) (*models.WebhookSubscription, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return nil, false
	}

	sub, err := h.subs.GetByID(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return nil, false
	}
	if sub == nil {
		response.NotFound(w, "Subscription")
		return nil, false
	}
	return sub, true
}

// validationErrors flattens validator errors into a field map.
func validationErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierrors.ErrBadRequest.WithMessage(err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apierrors.NewValidationErrors(fields)
}
