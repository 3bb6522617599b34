package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hookbridge/hookbridge/internal/models"
	"github.com/hookbridge/hookbridge/internal/repository"
)

// Dispatcher fans governance events out to all matching subscriptions and
// keeps per-subscription statistics current.
type Dispatcher struct {
	deliverer *Deliverer
	subs      repository.SubscriptionRepository
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher over the delivery engine.
func NewDispatcher(deliverer *Deliverer, subs repository.SubscriptionRepository, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		deliverer: deliverer,
		subs:      subs,
		logger:    logger.With(slog.String("component", "webhook_dispatcher")),
	}
}

// Dispatch delivers the event to every matching active subscription and
// updates their statistics from the results.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.WebhookEvent) (map[uuid.UUID]*models.WebhookDeliveryResult, error) {
	subs, err := d.subs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}

	results := d.deliverer.DeliverToAll(ctx, subs, event)

	now := time.Now()
	for _, sub := range subs {
		result, ok := results[sub.ID]
		if !ok {
			continue
		}
		if result.Success {
			sub.RecordSuccess(now)
		} else {
			sub.RecordFailure(now)
		}
		if err := d.subs.UpdateStats(ctx, sub.ID, sub.Stats); err != nil {
			d.logger.Warn("failed to update subscription stats",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	d.logger.Info("event dispatched",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.EventType),
		slog.Int("deliveries", len(results)))
	return results, nil
}

// GovernanceEvent is the inbound event contract consumed from upstream
// producers. Only event_type is mandatory; a missing title falls back to
// the event type.
type GovernanceEvent struct {
	ID                 string            `json:"id,omitempty"`
	EventType          string            `json:"event_type" validate:"required"`
	Timestamp          *time.Time        `json:"timestamp,omitempty"`
	Severity           string            `json:"severity,omitempty"`
	Source             string            `json:"source,omitempty"`
	Title              string            `json:"title,omitempty"`
	Description        string            `json:"description,omitempty"`
	Details            map[string]any    `json:"details,omitempty"`
	PolicyID           string            `json:"policy_id,omitempty"`
	ResourceID         string            `json:"resource_id,omitempty"`
	ResourceType       string            `json:"resource_type,omitempty"`
	ResourceAttributes map[string]string `json:"resource_attributes,omitempty"`
	UserID             string            `json:"user_id,omitempty"`
	TenantID           string            `json:"tenant_id,omitempty"`
	CorrelationID      string            `json:"correlation_id,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
}

// ToWebhookEvent converts the inbound contract into the immutable event
// shape. Events arriving without an ID get a deterministic one hashed from
// stable fields, so at-least-once redeliveries collapse to one event.
func (g *GovernanceEvent) ToWebhookEvent() (*models.WebhookEvent, error) {
	if g.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	ts := time.Now().UTC()
	if g.Timestamp != nil {
		ts = g.Timestamp.UTC()
	}

	title := g.Title
	if title == "" {
		title = g.EventType
	}

	severity := models.Severity(g.Severity)
	switch severity {
	case models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow, models.SeverityInfo:
	case "":
		severity = models.SeverityInfo
	default:
		return nil, fmt.Errorf("unknown severity %q", g.Severity)
	}

	id := g.ID
	if id == "" {
		id = deterministicEventID(g, ts)
	}

	return &models.WebhookEvent{
		ID:                 id,
		EventType:          g.EventType,
		Timestamp:          ts,
		Severity:           severity,
		Source:             g.Source,
		Title:              title,
		Description:        g.Description,
		Details:            g.Details,
		PolicyID:           g.PolicyID,
		ResourceID:         g.ResourceID,
		ResourceType:       g.ResourceType,
		ResourceAttributes: g.ResourceAttributes,
		UserID:             g.UserID,
		TenantID:           g.TenantID,
		CorrelationID:      g.CorrelationID,
		Tags:               g.Tags,
	}, nil
}

// deterministicEventID hashes the stable identity fields of an inbound
// event rather than minting a random ID.
func deterministicEventID(g *GovernanceEvent, ts time.Time) string {
	basis, _ := json.Marshal([]string{
		g.EventType,
		g.TenantID,
		g.ResourceID,
		g.CorrelationID,
		ts.Format(time.RFC3339),
	})
	sum := sha256.Sum256(basis)
	return hex.EncodeToString(sum[:16])
}
