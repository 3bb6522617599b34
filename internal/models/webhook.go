// Package models defines the domain types shared across the event hub.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionState is the lifecycle state of a webhook subscription.
type SubscriptionState string

const (
	SubscriptionActive              SubscriptionState = "active"
	SubscriptionInactive            SubscriptionState = "inactive"
	SubscriptionSuspended           SubscriptionState = "suspended"
	SubscriptionPendingVerification SubscriptionState = "pending_verification"
	SubscriptionFailed              SubscriptionState = "failed"
)

// AuthType selects how authentication headers are injected on delivery.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthHMAC   AuthType = "hmac"
)

// HMACAlgorithm is the hash used for HMAC request signing.
type HMACAlgorithm string

const (
	HMACSHA256 HMACAlgorithm = "sha256"
	HMACSHA512 HMACAlgorithm = "sha512"
)

// Severity classifies governance events.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// EndpointConfig describes the delivery target of a subscription.
type EndpointConfig struct {
	URL            string            `json:"url" validate:"required,url"`
	Method         string            `json:"method" validate:"omitempty,oneof=POST PUT"`
	AuthType       AuthType          `json:"auth_type" validate:"omitempty,oneof=none api_key bearer basic hmac"`
	AuthHeader     string            `json:"auth_header,omitempty"`
	AuthSecret     string            `json:"-"`
	HMACSecret     string            `json:"-"`
	HMACHeader     string            `json:"hmac_header,omitempty"`
	HMACAlgorithm  HMACAlgorithm     `json:"hmac_algorithm,omitempty" validate:"omitempty,oneof=sha256 sha512"`
	CustomHeaders  map[string]string `json:"custom_headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds" validate:"omitempty,min=1,max=300"`
}

// RetryPolicy is the per-subscription retry configuration.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries" validate:"min=0,max=10"`
	InitialDelay      float64 `json:"initial_delay_seconds" validate:"omitempty,gt=0"`
	MaxDelay          float64 `json:"max_delay_seconds" validate:"omitempty,gt=0"`
	ExponentialBase   float64 `json:"exponential_base" validate:"omitempty,gte=1"`
	JitterFactor      float64 `json:"jitter_factor" validate:"omitempty,gte=0,lte=1"`
	RetryableStatuses []int   `json:"retryable_statuses,omitempty"`
}

// DefaultRetryPolicy returns the retry policy applied when a subscription
// does not configure its own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      1.0,
		MaxDelay:          60.0,
		ExponentialBase:   2.0,
		JitterFactor:      0.1,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// SubscriptionStats accumulates delivery outcomes for a subscription.
type SubscriptionStats struct {
	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
}

// WebhookSubscription is a registered delivery target with its filters,
// endpoint configuration and retry policy.
type WebhookSubscription struct {
	ID                 uuid.UUID           `json:"id"`
	Name               string              `json:"name" validate:"required,min=1,max=200"`
	State              SubscriptionState   `json:"state"`
	Endpoint           EndpointConfig      `json:"endpoint"`
	EventTypes         []string            `json:"event_types,omitempty"`
	Severities         []Severity          `json:"severities,omitempty"`
	ResourceFilters    map[string][]string `json:"resource_filters,omitempty"`
	TagFilters         []string            `json:"tag_filters,omitempty"`
	Retry              RetryPolicy         `json:"retry"`
	RateLimitPerMinute int                 `json:"rate_limit_per_minute,omitempty"`
	Stats              SubscriptionStats   `json:"stats"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// ShouldDeliverEvent reports whether the event passes this subscription's
// state and filter checks. All configured filters must match; an empty
// filter matches everything, except tag filters which require at least one
// overlapping tag when non-empty.
func (s *WebhookSubscription) ShouldDeliverEvent(event *WebhookEvent) bool {
	if s.State != SubscriptionActive {
		return false
	}
	if len(s.EventTypes) > 0 && !containsString(s.EventTypes, event.EventType) {
		return false
	}
	if len(s.Severities) > 0 && !containsSeverity(s.Severities, event.Severity) {
		return false
	}
	for key, allowed := range s.ResourceFilters {
		value, ok := event.ResourceAttributes[key]
		if !ok || !containsString(allowed, value) {
			return false
		}
	}
	if len(s.TagFilters) > 0 {
		overlap := false
		for _, tag := range event.Tags {
			if containsString(s.TagFilters, tag) {
				overlap = true
				break
			}
		}
		if !overlap {
			return false
		}
	}
	return true
}

// RecordSuccess updates delivery statistics after a successful delivery.
// Any success resets the consecutive failure counter.
func (s *WebhookSubscription) RecordSuccess(at time.Time) {
	s.Stats.TotalDeliveries++
	s.Stats.SuccessfulDeliveries++
	s.Stats.ConsecutiveFailures = 0
	s.Stats.LastDeliveryAt = &at
	s.Stats.LastSuccessAt = &at
}

// RecordFailure updates delivery statistics after a permanently failed delivery.
func (s *WebhookSubscription) RecordFailure(at time.Time) {
	s.Stats.TotalDeliveries++
	s.Stats.FailedDeliveries++
	s.Stats.ConsecutiveFailures++
	s.Stats.LastDeliveryAt = &at
}

// WebhookEvent is an immutable governance occurrence fanned out to
// matching subscriptions.
type WebhookEvent struct {
	ID                 string            `json:"id"`
	EventType          string            `json:"event_type"`
	Timestamp          time.Time         `json:"timestamp"`
	Severity           Severity          `json:"severity"`
	Source             string            `json:"source"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Details            map[string]any    `json:"details,omitempty"`
	PolicyID           string            `json:"policy_id"`
	ResourceID         string            `json:"resource_id"`
	ResourceType       string            `json:"resource_type"`
	ResourceAttributes map[string]string `json:"resource_attributes,omitempty"`
	UserID             string            `json:"user_id"`
	TenantID           string            `json:"tenant_id"`
	CorrelationID      string            `json:"correlation_id"`
	Tags               []string          `json:"tags,omitempty"`
}

// DeliveryStatus is the state of one (subscription, event) delivery series.
type DeliveryStatus string

const (
	DeliveryPending      DeliveryStatus = "pending"
	DeliveryDelivered    DeliveryStatus = "delivered"
	DeliveryFailed       DeliveryStatus = "failed"
	DeliveryRetrying     DeliveryStatus = "retrying"
	DeliveryDeadLettered DeliveryStatus = "dead_lettered"
)

// WebhookDelivery tracks one attempt series for a (subscription, event) pair.
type WebhookDelivery struct {
	ID             string         `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	EventID        string         `json:"event_id"`
	Status         DeliveryStatus `json:"status"`
	AttemptNumber  int            `json:"attempt_number"`
	MaxAttempts    int            `json:"max_attempts"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	RequestURL     string         `json:"request_url"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// WebhookDeliveryResult is the outcome snapshot returned to the caller
// after a delivery series reaches a terminal state.
type WebhookDeliveryResult struct {
	DeliveryID    string        `json:"delivery_id"`
	Success       bool          `json:"success"`
	StatusCode    int           `json:"status_code,omitempty"`
	Duration      time.Duration `json:"duration"`
	AttemptNumber int           `json:"attempt_number"`
	ShouldRetry   bool          `json:"should_retry"`
	ErrorCode     string        `json:"error_code,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsSeverity(list []Severity, v Severity) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
