package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
	"github.com/hookbridge/hookbridge/internal/webhook"
)

func newTestEngine() (*webhook.DeadLetterQueue, *webhook.Deliverer) {
	dlq := webhook.NewDeadLetterQueue(100)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deliverer := webhook.NewDeliverer(config.WebhookConfig{
		MaxConcurrentDeliveries: 5,
		DefaultTimeout:          5 * time.Second,
		DeadLetterEnabled:       true,
	}, dlq, logger)
	return dlq, deliverer
}

func deadLetterFixture(sub *models.WebhookSubscription) (*models.WebhookDelivery, *models.WebhookEvent, []byte) {
	return &models.WebhookDelivery{
			ID:             "01HTESTDELIVERY0000000000",
			SubscriptionID: sub.ID,
			EventID:        "evt-1",
			Status:         models.DeliveryDeadLettered,
		},
		&models.WebhookEvent{
			ID:        "evt-1",
			EventType: "policy_violation",
			Timestamp: time.Now(),
			Severity:  models.SeverityHigh,
			Title:     "Unencrypted bucket",
		},
		[]byte(`{"id":"evt-1"}`)
}

func TestDeadLetterListAndRemove(t *testing.T) {
	dlq, deliverer := newTestEngine()
	sub := storedSubscription()
	dlq.Add(deadLetterFixture(sub))

	router := NewDeadLetterHandler(dlq, deliverer, newMockSubRepo(sub)).Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "evt-1")

	// Filtered by subscription.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?subscription_id="+sub.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "evt-1")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/01HTESTDELIVERY0000000000", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, dlq.Len())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/01HTESTDELIVERY0000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeadLetterReplaySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dlq, deliverer := newTestEngine()
	sub := storedSubscription()
	sub.Endpoint.URL = srv.URL
	dlq.Add(deadLetterFixture(sub))

	router := NewDeadLetterHandler(dlq, deliverer, newMockSubRepo(sub)).Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/01HTESTDELIVERY0000000000/replay", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Equal(t, 0, dlq.Len(), "replayed entry leaves the queue")
}

func TestDeadLetterReplayUnknownDelivery(t *testing.T) {
	dlq, deliverer := newTestEngine()
	router := NewDeadLetterHandler(dlq, deliverer, newMockSubRepo()).Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unknown/replay", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeadLetterClear(t *testing.T) {
	dlq, deliverer := newTestEngine()
	sub := storedSubscription()
	dlq.Add(deadLetterFixture(sub))

	router := NewDeadLetterHandler(dlq, deliverer, newMockSubRepo(sub)).Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":1`)
	assert.Equal(t, 0, dlq.Len())
}
