package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDeliverer returns an engine with instant, recorded sleeps.
func newTestDeliverer(t *testing.T, opts ...DelivererOption) (*Deliverer, *[]time.Duration) {
	t.Helper()
	dlq := NewDeadLetterQueue(100)
	d := NewDeliverer(config.WebhookConfig{
		MaxConcurrentDeliveries: 10,
		DefaultTimeout:          5 * time.Second,
		UserAgent:               "hookbridge-webhook/test",
		DeadLetterEnabled:       true,
	}, dlq, discardLogger(), opts...)

	var waits []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		waits = append(waits, wait)
		return nil
	}
	return d, &waits
}

func testSubscription(url string) *models.WebhookSubscription {
	return &models.WebhookSubscription{
		ID:    uuid.New(),
		Name:  "test endpoint",
		State: models.SubscriptionActive,
		Endpoint: models.EndpointConfig{
			URL: url,
		},
		Retry: models.RetryPolicy{
			MaxRetries:      3,
			InitialDelay:    0.01,
			MaxDelay:        0.05,
			ExponentialBase: 2,
		},
	}
}

func testEvent() *models.WebhookEvent {
	return &models.WebhookEvent{
		ID:        "evt-1",
		EventType: "policy_violation",
		Timestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		Severity:  models.SeverityHigh,
		Source:    "policy_engine",
		Title:     "Unencrypted bucket",
		Tags:      []string{"s3", "encryption"},
	}
}

func TestDeliverSucceedsFirstAttempt(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		body     []byte
		headers  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		body, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	result, err := d.Deliver(context.Background(), testSubscription(srv.URL), testEvent())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 1, result.AttemptNumber)
	assert.Equal(t, 1, requests)
	assert.Empty(t, *waits)
	assert.Equal(t, 0, d.DLQ().Len())

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "hookbridge-webhook/test", headers.Get("User-Agent"))
	assert.Equal(t, "policy_violation", headers.Get(headerEventType))
	assert.NotEmpty(t, headers.Get(headerDeliveryID))
	assert.NotEmpty(t, headers.Get(headerTimestamp))
	assert.Contains(t, string(body), `"id":"evt-1"`)
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		bodies   [][]byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, b)
		n := requests
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	result, err := d.Deliver(context.Background(), testSubscription(srv.URL), testEvent())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.AttemptNumber)
	assert.Equal(t, 3, requests)
	require.Len(t, *waits, 2)

	// Waits never shrink between consecutive retries.
	assert.GreaterOrEqual(t, (*waits)[1], (*waits)[0])

	// The payload bytes are identical on every attempt.
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[1], bodies[2])
}

func TestDeliverExhaustsRetriesAndDeadLetters(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := newTestDeliverer(t)
	sub := testSubscription(srv.URL)
	sub.Retry.MaxRetries = 2

	result, err := d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.AttemptNumber, "max_retries=2 means three attempts total")
	assert.Equal(t, 3, requests)
	assert.Equal(t, apierrors.CodeMaxRetriesExceeded, result.ErrorCode)

	entries := d.DLQ().GetAll()
	require.Len(t, entries, 1)
	assert.Equal(t, models.DeliveryDeadLettered, entries[0].Delivery.Status)
	assert.Equal(t, "evt-1", entries[0].Event.ID)
}

func TestDeliverDoesNotRetryNonRetryableStatus(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	result, err := d.Deliver(context.Background(), testSubscription(srv.URL), testEvent())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, requests, "404 is terminal")
	assert.Empty(t, *waits)
	assert.Equal(t, apierrors.CodeHTTPError, result.ErrorCode)
}

func TestDeliverAuthRejectionIsTerminal(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d, _ := newTestDeliverer(t)
	result, err := d.Deliver(context.Background(), testSubscription(srv.URL), testEvent())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, requests)
	assert.Equal(t, apierrors.CodeAuthFailed, result.ErrorCode)
}

func TestDeliverHonorsRetryAfter(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	result, err := d.Deliver(context.Background(), testSubscription(srv.URL), testEvent())
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, *waits, 1)
	assert.GreaterOrEqual(t, (*waits)[0], 3*time.Second, "Retry-After overrides shorter backoff")
}

func TestDeliverSignsHMAC(t *testing.T) {
	var (
		signature string
		body      []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(defaultSignatureHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDeliverer(t)
	sub := testSubscription(srv.URL)
	sub.Endpoint.AuthType = models.AuthHMAC
	sub.Endpoint.HMACSecret = "topsecret"
	sub.Endpoint.HMACAlgorithm = models.HMACSHA256

	result, err := d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.True(t, VerifySignature("topsecret", body, models.HMACSHA256, signature),
		"signature must verify against the exact bytes received")
}

func TestDeliverInjectsAuthHeaders(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDeliverer(t)

	sub := testSubscription(srv.URL)
	sub.Endpoint.AuthType = models.AuthBearer
	sub.Endpoint.AuthSecret = "tok-123"
	_, err := d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", headers.Get("Authorization"))

	sub = testSubscription(srv.URL)
	sub.Endpoint.AuthType = models.AuthAPIKey
	sub.Endpoint.AuthSecret = "key-456"
	_, err = d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	assert.Equal(t, "key-456", headers.Get(defaultAPIKeyHeader))

	sub = testSubscription(srv.URL)
	sub.Endpoint.AuthType = models.AuthAPIKey
	sub.Endpoint.AuthHeader = "X-Custom-Key"
	sub.Endpoint.AuthSecret = "key-789"
	sub.Endpoint.CustomHeaders = map[string]string{"X-Team": "governance"}
	_, err = d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	assert.Equal(t, "key-789", headers.Get("X-Custom-Key"))
	assert.Equal(t, "governance", headers.Get("X-Team"))
}

func TestDeliverHMACWithoutSecretFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request must be sent for a misconfigured subscription")
	}))
	defer srv.Close()

	d, _ := newTestDeliverer(t)
	sub := testSubscription(srv.URL)
	sub.Endpoint.AuthType = models.AuthHMAC

	result, err := d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, apierrors.CodeValidationFailed, result.ErrorCode)
}

// stubLimiter is a hand-rolled RateLimiter for tests.
type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (s *stubLimiter) Allow(_ context.Context, _ uuid.UUID, _ int) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func TestDeliverRespectsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("rate limited delivery must not reach the endpoint")
	}))
	defer srv.Close()

	limiter := &stubLimiter{allow: false}
	d, _ := newTestDeliverer(t, WithRateLimiter(limiter))

	sub := testSubscription(srv.URL)
	sub.RateLimitPerMinute = 10

	result, err := d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.ShouldRetry)
	assert.Equal(t, apierrors.CodeRateLimited, result.ErrorCode)
	assert.Equal(t, 1, limiter.calls)
}

func TestDeliverFailsOpenOnLimiterError(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	limiter := &stubLimiter{allow: false, err: assert.AnError}
	d, _ := newTestDeliverer(t, WithRateLimiter(limiter))

	sub := testSubscription(srv.URL)
	sub.RateLimitPerMinute = 10

	result, err := d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	assert.True(t, result.Success, "limiter outages must not block deliveries")
	assert.Equal(t, 1, requests)
}

func TestDeliverToAllFiltersSubscriptions(t *testing.T) {
	var mu sync.Mutex
	hits := make(map[string]int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	matching := testSubscription(srv.URL + "/match")
	matching.Severities = []models.Severity{models.SeverityHigh, models.SeverityCritical}

	filtered := testSubscription(srv.URL + "/filtered")
	filtered.Severities = []models.Severity{models.SeverityCritical}

	paused := testSubscription(srv.URL + "/paused")
	paused.State = models.SubscriptionInactive

	d, _ := newTestDeliverer(t)
	results := d.DeliverToAll(context.Background(),
		[]*models.WebhookSubscription{matching, filtered, paused}, testEvent())

	require.Len(t, results, 1)
	assert.True(t, results[matching.ID].Success)
	assert.Equal(t, 1, hits["/match"])
	assert.Zero(t, hits["/filtered"])
	assert.Zero(t, hits["/paused"])
}

func TestDeliverBatchKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	events := []*models.WebhookEvent{
		{ID: "evt-1", EventType: "a", Timestamp: time.Now(), Severity: models.SeverityInfo, Title: "a"},
		{ID: "evt-2", EventType: "b", Timestamp: time.Now(), Severity: models.SeverityInfo, Title: "b"},
		{ID: "evt-3", EventType: "c", Timestamp: time.Now(), Severity: models.SeverityInfo, Title: "c"},
	}

	d, _ := newTestDeliverer(t)
	results := d.DeliverBatch(context.Background(), testSubscription(srv.URL), events)

	require.Len(t, results, 3)
	for i, res := range results {
		assert.True(t, res.Success, "event %d", i)
	}
}

func TestDeliverConnectionErrorRetries(t *testing.T) {
	// A closed server forces connection failures.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d, waits := newTestDeliverer(t)
	sub := testSubscription(srv.URL)
	sub.Retry.MaxRetries = 1

	result, err := d.Deliver(context.Background(), sub, testEvent())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.AttemptNumber)
	assert.Len(t, *waits, 1)
	assert.Equal(t, apierrors.CodeMaxRetriesExceeded, result.ErrorCode)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-time"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 50*time.Second)
	assert.LessOrEqual(t, d, time.Minute)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))
}
