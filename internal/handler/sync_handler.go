package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
	"github.com/hookbridge/hookbridge/internal/pkg/response"
	"github.com/hookbridge/hookbridge/internal/syncer"
)

// SyncHandler triggers issue sync against registered trackers. Each sync
// runs under the advisory issue lock so concurrent directions cannot race.
type SyncHandler struct {
	managers map[string]*syncer.Manager
	resolver *syncer.Resolver
	lock     *syncer.Lock
	validate *validator.Validate
}

// NewSyncHandler creates a sync handler over the registered tracker managers.
func NewSyncHandler(managers map[string]*syncer.Manager, resolver *syncer.Resolver, lock *syncer.Lock) *SyncHandler {
	return &SyncHandler{
		managers: managers,
		resolver: resolver,
		lock:     lock,
		validate: validator.New(),
	}
}

// Routes returns a chi router with sync routes.
func (h *SyncHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{tracker}/push", h.Push)
	r.Post("/{tracker}/pull", h.Pull)
	r.Get("/issues/{issueID}/conflicts", h.Conflicts)

	return r
}

// PushRequest asks for a local issue to be written to a tracker.
type PushRequest struct {
	LocalID         string `json:"local_id" validate:"required"`
	Repo            string `json:"repo" validate:"required"`
	ExistingRef     string `json:"existing_ref,omitempty"`
	CreateIfMissing bool   `json:"create_if_missing,omitempty"`
}

// SyncResponse reports the outcome of a sync trigger.
type SyncResponse struct {
	Synced bool                 `json:"synced"`
	Locked bool                 `json:"locked,omitempty"`
	Remote *models.TrackerIssue `json:"remote,omitempty"`
	Local  *models.LocalIssue   `json:"local,omitempty"`
}

// Push handles POST /v1/sync/{tracker}/push
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.manager(w, r)
	if !ok {
		return
	}

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, validationErrors(err))
		return
	}

	var remote *models.TrackerIssue
	held, err := h.lock.WithLock(r.Context(), req.LocalID, func(ctx context.Context) error {
		var syncErr error
		remote, syncErr = manager.SyncToTracker(ctx, req.LocalID, req.Repo, req.CreateIfMissing, req.ExistingRef)
		return syncErr
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	if !held {
		response.ErrorWithStatus(w, http.StatusConflict, apierrors.ErrConflict.WithMessage("Issue is being synced by another worker"))
		return
	}

	response.OK(w, SyncResponse{Synced: remote != nil, Remote: remote})
}

// PullRequest asks for a tracker issue to be applied locally.
type PullRequest struct {
	LocalID string `json:"local_id" validate:"required"`
	Repo    string `json:"repo" validate:"required"`
	Ref     string `json:"ref" validate:"required"`
}

// Pull handles POST /v1/sync/{tracker}/pull
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	manager, ok := h.manager(w, r)
	if !ok {
		return
	}

	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, validationErrors(err))
		return
	}

	var local *models.LocalIssue
	held, err := h.lock.WithLock(r.Context(), req.LocalID, func(ctx context.Context) error {
		var syncErr error
		local, syncErr = manager.SyncFromTracker(ctx, req.LocalID, req.Repo, req.Ref)
		return syncErr
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	if !held {
		response.ErrorWithStatus(w, http.StatusConflict, apierrors.ErrConflict.WithMessage("Issue is being synced by another worker"))
		return
	}

	response.OK(w, SyncResponse{Synced: local != nil, Local: local})
}

// Conflicts handles GET /v1/sync/issues/{issueID}/conflicts
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	history, err := h.resolver.ConflictHistory(r.Context(), chi.URLParam(r, "issueID"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, history)
}

func (h *SyncHandler) manager(w http.ResponseWriter, r *http.Request) (*syncer.Manager, bool) {
	name := chi.URLParam(r, "tracker")
	manager, ok := h.managers[name]
	if !ok {
		response.NotFound(w, "Tracker")
		return nil, false
	}
	return manager, true
}
