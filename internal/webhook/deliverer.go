package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
	"github.com/hookbridge/hookbridge/internal/pkg/ulid"
)

const (
	headerDeliveryID = "X-Webhook-Delivery-ID"
	headerTimestamp  = "X-Webhook-Timestamp"
	headerEventType  = "X-Webhook-Event-Type"

	defaultAPIKeyHeader    = "X-API-Key"
	defaultSignatureHeader = "X-Webhook-Signature"

	maxResponseSnapshot = 4096
)

// RateLimiter throttles deliveries per subscription. Allow reports whether
// another delivery may start within the subscription's per-minute budget.
type RateLimiter interface {
	Allow(ctx context.Context, subscriptionID uuid.UUID, limitPerMinute int) (bool, error)
}

// DeliveryRecorder persists delivery outcomes for audit. Recording is
// best-effort and never blocks or fails a delivery.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
}

// Deliverer executes webhook deliveries with bounded retries and bounded
// global concurrency.
type Deliverer struct {
	client    *http.Client
	logger    *slog.Logger
	dlq       *DeadLetterQueue
	limiter   RateLimiter
	recorder  DeliveryRecorder
	sem       chan struct{}
	userAgent string

	defaultTimeout    time.Duration
	dlqEnabled        bool
	retryableStatuses map[int]bool

	// sleep waits for the backoff delay or until the context is cancelled.
	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DelivererOption configures optional collaborators.
type DelivererOption func(*Deliverer)

// WithRateLimiter installs a per-subscription rate limiter.
func WithRateLimiter(l RateLimiter) DelivererOption {
	return func(d *Deliverer) { d.limiter = l }
}

// WithRecorder installs a delivery audit recorder.
func WithRecorder(r DeliveryRecorder) DelivererOption {
	return func(d *Deliverer) { d.recorder = r }
}

// WithHTTPClient overrides the HTTP client. Used by tests.
func WithHTTPClient(c *http.Client) DelivererOption {
	return func(d *Deliverer) { d.client = c }
}

// NewDeliverer creates the delivery engine. The concurrency semaphore is
// sized by cfg.MaxConcurrentDeliveries and caps in-flight HTTP calls
// across all subscriptions.
func NewDeliverer(cfg config.WebhookConfig, dlq *DeadLetterQueue, logger *slog.Logger, opts ...DelivererOption) *Deliverer {
	maxConcurrent := cfg.MaxConcurrentDeliveries
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	retryable := make(map[int]bool, len(cfg.RetryableStatuses))
	for _, s := range cfg.RetryableStatuses {
		retryable[s] = true
	}
	if len(retryable) == 0 {
		for _, s := range []int{429, 500, 502, 503, 504} {
			retryable[s] = true
		}
	}

	d := &Deliverer{
		client:            &http.Client{},
		logger:            logger.With(slog.String("component", "webhook_deliverer")),
		dlq:               dlq,
		sem:               make(chan struct{}, maxConcurrent),
		userAgent:         cfg.UserAgent,
		defaultTimeout:    cfg.DefaultTimeout,
		dlqEnabled:        cfg.DeadLetterEnabled,
		retryableStatuses: retryable,
		sleep:             sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends one event to one subscription, retrying per the
// subscription's own retry policy. The returned result reflects the
// terminal state; the error is non-nil only for caller mistakes
// (misconfigured subscription), never for transport failures.
func (d *Deliverer) Deliver(ctx context.Context, sub *models.WebhookSubscription, event *models.WebhookEvent) (*models.WebhookDeliveryResult, error) {
	policy := effectivePolicy(sub.Retry)
	maxAttempts := policy.MaxRetries + 1

	// The payload is serialized once and reused byte-identical across all
	// attempts, so HMAC signatures stay stable.
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event %s: %w", event.ID, err)
	}

	if d.limiter != nil && sub.RateLimitPerMinute > 0 {
		allowed, err := d.limiter.Allow(ctx, sub.ID, sub.RateLimitPerMinute)
		if err != nil {
			// Fail open on limiter infrastructure errors.
			d.logger.Warn("rate limiter unavailable, proceeding",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()))
		} else if !allowed {
			return &models.WebhookDeliveryResult{
				Success:      false,
				ShouldRetry:  true,
				ErrorCode:    apierrors.CodeRateLimited,
				ErrorMessage: fmt.Sprintf("subscription %s exceeded %d deliveries/minute", sub.ID, sub.RateLimitPerMinute),
			}, nil
		}
	}

	// Bounded global concurrency: one slot per delivery series.
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.sem }()

	backoff := NewBackoff(
		secondsToDuration(policy.InitialDelay),
		secondsToDuration(policy.MaxDelay),
		policy.ExponentialBase,
		policy.JitterFactor,
	)

	delivery := &models.WebhookDelivery{
		ID:             ulid.New(),
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		Status:         models.DeliveryPending,
		MaxAttempts:    maxAttempts,
		StartedAt:      time.Now(),
		RequestURL:     sub.Endpoint.URL,
	}
	deliveryUUID := uuid.NewString()
	start := time.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delivery.AttemptNumber = attempt
		deliveryAttemptsTotal.Inc()

		outcome := d.attempt(ctx, sub, payload, deliveryUUID, event.EventType, delivery)

		if outcome.success {
			return d.finalizeSuccess(ctx, delivery, outcome, attempt, start), nil
		}

		if !outcome.retryable {
			return d.finalizeFailure(ctx, delivery, event, payload, outcome, attempt, start, false), nil
		}

		if attempt == maxAttempts {
			return d.finalizeFailure(ctx, delivery, event, payload, outcome, attempt, start, true), nil
		}

		// Retry-After from the endpoint overrides the computed backoff
		// when it is longer.
		wait := backoff.Delay(attempt)
		if outcome.retryAfter > wait {
			wait = outcome.retryAfter
		}
		next := time.Now().Add(wait)
		delivery.Status = models.DeliveryRetrying
		delivery.NextRetryAt = &next
		deliveryRetriesTotal.Inc()

		d.logger.Debug("delivery attempt failed, retrying",
			slog.String("delivery_id", delivery.ID),
			slog.Int("attempt", attempt),
			slog.Int("status", outcome.statusCode),
			slog.Duration("wait", wait))

		if err := d.sleep(ctx, wait); err != nil {
			// Operator cancelled the delivery mid-backoff.
			outcome.errorCode = apierrors.CodeConnectionError
			outcome.errorMessage = err.Error()
			return d.finalizeFailure(ctx, delivery, event, payload, outcome, attempt, start, false), nil
		}
	}

	// Unreachable: the loop always finalizes.
	return nil, fmt.Errorf("delivery %s did not reach a terminal state", delivery.ID)
}

// DeliverBatch delivers multiple events to one subscription concurrently.
// Result order matches the input order.
func (d *Deliverer) DeliverBatch(ctx context.Context, sub *models.WebhookSubscription, events []*models.WebhookEvent) []*models.WebhookDeliveryResult {
	results := make([]*models.WebhookDeliveryResult, len(events))
	var wg sync.WaitGroup

	for i, event := range events {
		wg.Add(1)
		go func(idx int, ev *models.WebhookEvent) {
			defer wg.Done()
			res, err := d.Deliver(ctx, sub, ev)
			if err != nil {
				res = &models.WebhookDeliveryResult{
					Success:      false,
					ErrorCode:    apierrors.CodeValidationFailed,
					ErrorMessage: err.Error(),
				}
			}
			results[idx] = res
		}(i, event)
	}
	wg.Wait()
	return results
}

// DeliverToAll fans an event out to every matching active subscription.
// Non-matching subscriptions are skipped without a result entry.
func (d *Deliverer) DeliverToAll(ctx context.Context, subs []*models.WebhookSubscription, event *models.WebhookEvent) map[uuid.UUID]*models.WebhookDeliveryResult {
	results := make(map[uuid.UUID]*models.WebhookDeliveryResult)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, sub := range subs {
		if !sub.ShouldDeliverEvent(event) {
			continue
		}
		wg.Add(1)
		go func(s *models.WebhookSubscription) {
			defer wg.Done()
			res, err := d.Deliver(ctx, s, event)
			if err != nil {
				res = &models.WebhookDeliveryResult{
					Success:      false,
					ErrorCode:    apierrors.CodeValidationFailed,
					ErrorMessage: err.Error(),
				}
			}
			mu.Lock()
			results[s.ID] = res
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return results
}

// DLQ exposes the dead letter queue for inspection endpoints.
func (d *Deliverer) DLQ() *DeadLetterQueue {
	return d.dlq
}

// attemptOutcome classifies one HTTP attempt.
type attemptOutcome struct {
	success      bool
	retryable    bool
	statusCode   int
	retryAfter   time.Duration
	errorCode    string
	errorMessage string
}

// attempt executes a single HTTP call and classifies the outcome. All
// transport errors are absorbed into the outcome; callers never see them.
func (d *Deliverer) attempt(ctx context.Context, sub *models.WebhookSubscription, payload []byte, deliveryUUID, eventType string, delivery *models.WebhookDelivery) attemptOutcome {
	timeout := d.defaultTimeout
	if sub.Endpoint.TimeoutSeconds > 0 {
		timeout = time.Duration(sub.Endpoint.TimeoutSeconds) * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := sub.Endpoint.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, sub.Endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return attemptOutcome{
			retryable:    false,
			errorCode:    apierrors.CodeValidationFailed,
			errorMessage: fmt.Sprintf("invalid endpoint: %v", err),
		}
	}

	if err := d.buildHeaders(req, sub, payload, deliveryUUID, eventType); err != nil {
		return attemptOutcome{
			retryable:    false,
			errorCode:    apierrors.CodeValidationFailed,
			errorMessage: err.Error(),
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSnapshot))
	delivery.ResponseStatus = resp.StatusCode
	delivery.ResponseBody = string(body)

	switch {
	case resp.StatusCode < 400:
		return attemptOutcome{success: true, statusCode: resp.StatusCode}
	case d.retryableStatuses[resp.StatusCode]:
		out := attemptOutcome{
			retryable:    true,
			statusCode:   resp.StatusCode,
			errorCode:    apierrors.CodeHTTPError,
			errorMessage: fmt.Sprintf("endpoint returned %d", resp.StatusCode),
			retryAfter:   parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			out.errorCode = apierrors.CodeRateLimited
		}
		return out
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return attemptOutcome{
			retryable:    false,
			statusCode:   resp.StatusCode,
			errorCode:    apierrors.CodeAuthFailed,
			errorMessage: fmt.Sprintf("endpoint rejected credentials with %d", resp.StatusCode),
		}
	default:
		// Remaining 4xx/5xx outside the retryable set: assumed non-transient.
		return attemptOutcome{
			retryable:    false,
			statusCode:   resp.StatusCode,
			errorCode:    apierrors.CodeHTTPError,
			errorMessage: fmt.Sprintf("endpoint returned %d", resp.StatusCode),
		}
	}
}

// buildHeaders sets base, custom and authentication headers. HMAC signing
// happens here, after payload serialization, over the exact bytes sent.
func (d *Deliverer) buildHeaders(req *http.Request, sub *models.WebhookSubscription, payload []byte, deliveryUUID, eventType string) error {
	req.Header.Set("Content-Type", "application/json")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	req.Header.Set(headerDeliveryID, deliveryUUID)
	req.Header.Set(headerTimestamp, time.Now().UTC().Format(time.RFC3339))
	req.Header.Set(headerEventType, eventType)

	for name, value := range sub.Endpoint.CustomHeaders {
		req.Header.Set(name, value)
	}

	switch sub.Endpoint.AuthType {
	case models.AuthNone, "":
	case models.AuthAPIKey:
		header := sub.Endpoint.AuthHeader
		if header == "" {
			header = defaultAPIKeyHeader
		}
		req.Header.Set(header, sub.Endpoint.AuthSecret)
	case models.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+sub.Endpoint.AuthSecret)
	case models.AuthBasic:
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(sub.Endpoint.AuthSecret)))
	case models.AuthHMAC:
		if sub.Endpoint.HMACSecret == "" {
			return fmt.Errorf("subscription %s uses hmac auth without a secret", sub.ID)
		}
		signature, err := Sign(sub.Endpoint.HMACSecret, payload, sub.Endpoint.HMACAlgorithm)
		if err != nil {
			return fmt.Errorf("failed to sign payload: %w", err)
		}
		header := sub.Endpoint.HMACHeader
		if header == "" {
			header = defaultSignatureHeader
		}
		req.Header.Set(header, signature)
	default:
		return fmt.Errorf("unknown auth type %q", sub.Endpoint.AuthType)
	}
	return nil
}

func (d *Deliverer) finalizeSuccess(ctx context.Context, delivery *models.WebhookDelivery, outcome attemptOutcome, attempt int, start time.Time) *models.WebhookDeliveryResult {
	now := time.Now()
	delivery.Status = models.DeliveryDelivered
	delivery.CompletedAt = &now
	delivery.NextRetryAt = nil
	d.record(ctx, delivery)

	deliveriesTotal.WithLabelValues(string(models.DeliveryDelivered)).Inc()
	deliveryDuration.Observe(now.Sub(start).Seconds())

	d.logger.Info("delivery succeeded",
		slog.String("delivery_id", delivery.ID),
		slog.String("event_id", delivery.EventID),
		slog.Int("attempt", attempt),
		slog.Int("status", outcome.statusCode))

	return &models.WebhookDeliveryResult{
		DeliveryID:    delivery.ID,
		Success:       true,
		StatusCode:    outcome.statusCode,
		Duration:      now.Sub(start),
		AttemptNumber: attempt,
	}
}

func (d *Deliverer) finalizeFailure(ctx context.Context, delivery *models.WebhookDelivery, event *models.WebhookEvent, payload []byte, outcome attemptOutcome, attempt int, start time.Time, exhausted bool) *models.WebhookDeliveryResult {
	now := time.Now()
	delivery.CompletedAt = &now
	delivery.NextRetryAt = nil
	delivery.ErrorCode = outcome.errorCode
	delivery.ErrorMessage = outcome.errorMessage
	delivery.Status = models.DeliveryFailed

	if exhausted {
		delivery.ErrorCode = apierrors.CodeMaxRetriesExceeded
		if d.dlqEnabled && d.dlq != nil {
			delivery.Status = models.DeliveryDeadLettered
			d.dlq.Add(delivery, event, payload)
			deadLetterDepth.Set(float64(d.dlq.Len()))
		}
	} else if d.dlqEnabled && d.dlq != nil {
		d.dlq.Add(delivery, event, payload)
		deadLetterDepth.Set(float64(d.dlq.Len()))
	}
	d.record(ctx, delivery)

	deliveriesTotal.WithLabelValues(string(delivery.Status)).Inc()
	deliveryDuration.Observe(now.Sub(start).Seconds())

	d.logger.Warn("delivery failed",
		slog.String("delivery_id", delivery.ID),
		slog.String("event_id", delivery.EventID),
		slog.String("status", string(delivery.Status)),
		slog.String("error_code", delivery.ErrorCode),
		slog.Int("attempt", attempt))

	return &models.WebhookDeliveryResult{
		DeliveryID:    delivery.ID,
		Success:       false,
		StatusCode:    outcome.statusCode,
		Duration:      now.Sub(start),
		AttemptNumber: attempt,
		ShouldRetry:   false,
		ErrorCode:     delivery.ErrorCode,
		ErrorMessage:  outcome.errorMessage,
	}
}

// record persists the delivery outcome asynchronously, best-effort.
func (d *Deliverer) record(_ context.Context, delivery *models.WebhookDelivery) {
	if d.recorder == nil {
		return
	}
	snapshot := *delivery
	go func() {
		if err := d.recorder.RecordDelivery(context.Background(), &snapshot); err != nil {
			d.logger.Warn("failed to record delivery",
				slog.String("delivery_id", snapshot.ID),
				slog.String("error", err.Error()))
		}
	}()
}

// classifyTransportError maps network failures to retryable outcomes.
func classifyTransportError(err error) attemptOutcome {
	code := apierrors.CodeConnectionError
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		code = apierrors.CodeDeliveryTimeout
	}
	return attemptOutcome{
		retryable:    true,
		errorCode:    code,
		errorMessage: err.Error(),
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// effectivePolicy fills defaults for unset retry policy fields.
func effectivePolicy(p models.RetryPolicy) models.RetryPolicy {
	def := models.DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.ExponentialBase < 1 {
		p.ExponentialBase = def.ExponentialBase
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = def.JitterFactor
	}
	return p
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
