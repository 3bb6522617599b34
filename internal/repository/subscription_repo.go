// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookbridge/hookbridge/internal/models"
)

// SubscriptionRepository defines storage for webhook subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.WebhookSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error)
	ListActive(ctx context.Context) ([]*models.WebhookSubscription, error)
	List(ctx context.Context) ([]*models.WebhookSubscription, error)
	Update(ctx context.Context, sub *models.WebhookSubscription) error
	UpdateStats(ctx context.Context, id uuid.UUID, stats models.SubscriptionStats) error
	SetState(ctx context.Context, id uuid.UUID, state models.SubscriptionState) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new subscription repository.
func NewSubscriptionRepository(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, name, state, endpoint, event_types, severities, resource_filters, tag_filters, retry_policy, rate_limit_per_minute, stats, created_at, updated_at`

// Create inserts a new subscription. New subscriptions start in
// pending_verification unless a state is set explicitly.
func (r *subscriptionRepo) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.State == "" {
		sub.State = models.SubscriptionPendingVerification
	}

	endpoint, filters, retry, stats, err := marshalSubscriptionFields(sub)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_subscriptions (id, name, state, endpoint, event_types, severities, resource_filters, tag_filters, retry_policy, rate_limit_per_minute, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		sub.ID,
		sub.Name,
		sub.State,
		endpoint,
		sub.EventTypes,
		severitiesToStrings(sub.Severities),
		filters,
		sub.TagFilters,
		retry,
		sub.RateLimitPerMinute,
		stats,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

// GetByID retrieves a subscription by ID. Returns nil when not found.
func (r *subscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

// ListActive returns subscriptions eligible for delivery.
func (r *subscriptionRepo) ListActive(ctx context.Context) ([]*models.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE state = $1 ORDER BY created_at`
	return r.list(ctx, query, models.SubscriptionActive)
}

// List returns all subscriptions.
func (r *subscriptionRepo) List(ctx context.Context) ([]*models.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *subscriptionRepo) list(ctx context.Context, query string, args ...any) ([]*models.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Update rewrites all mutable subscription fields.
func (r *subscriptionRepo) Update(ctx context.Context, sub *models.WebhookSubscription) error {
	endpoint, filters, retry, stats, err := marshalSubscriptionFields(sub)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhook_subscriptions
		SET name = $2, state = $3, endpoint = $4, event_types = $5, severities = $6,
		    resource_filters = $7, tag_filters = $8, retry_policy = $9,
		    rate_limit_per_minute = $10, stats = $11, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	return r.pool.QueryRow(ctx, query,
		sub.ID,
		sub.Name,
		sub.State,
		endpoint,
		sub.EventTypes,
		severitiesToStrings(sub.Severities),
		filters,
		sub.TagFilters,
		retry,
		sub.RateLimitPerMinute,
		stats,
	).Scan(&sub.UpdatedAt)
}

// UpdateStats persists delivery statistics only.
func (r *subscriptionRepo) UpdateStats(ctx context.Context, id uuid.UUID, stats models.SubscriptionStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	_, err = r.pool.Exec(ctx, `UPDATE webhook_subscriptions SET stats = $2, updated_at = now() WHERE id = $1`, id, data)
	return err
}

// SetState transitions the subscription lifecycle state.
func (r *subscriptionRepo) SetState(ctx context.Context, id uuid.UUID, state models.SubscriptionState) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_subscriptions SET state = $2, updated_at = now() WHERE id = $1`, id, state)
	return err
}

// Delete removes a subscription.
func (r *subscriptionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	return err
}

func marshalSubscriptionFields(sub *models.WebhookSubscription) (endpoint, filters, retry, stats []byte, err error) {
	if endpoint, err = json.Marshal(sub.Endpoint); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal endpoint: %w", err)
	}
	if filters, err = json.Marshal(sub.ResourceFilters); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal resource filters: %w", err)
	}
	if retry, err = json.Marshal(sub.Retry); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal retry policy: %w", err)
	}
	if stats, err = json.Marshal(sub.Stats); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal stats: %w", err)
	}
	return endpoint, filters, retry, stats, nil
}

func scanSubscription(row pgx.Row) (*models.WebhookSubscription, error) {
	var (
		sub        models.WebhookSubscription
		endpoint   []byte
		filters    []byte
		retry      []byte
		stats      []byte
		severities []string
	)
	err := row.Scan(
		&sub.ID,
		&sub.Name,
		&sub.State,
		&endpoint,
		&sub.EventTypes,
		&severities,
		&filters,
		&sub.TagFilters,
		&retry,
		&sub.RateLimitPerMinute,
		&stats,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(endpoint, &sub.Endpoint); err != nil {
		return nil, fmt.Errorf("failed to decode endpoint: %w", err)
	}
	if err := json.Unmarshal(filters, &sub.ResourceFilters); err != nil {
		return nil, fmt.Errorf("failed to decode resource filters: %w", err)
	}
	if err := json.Unmarshal(retry, &sub.Retry); err != nil {
		return nil, fmt.Errorf("failed to decode retry policy: %w", err)
	}
	if err := json.Unmarshal(stats, &sub.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	sub.Severities = stringsToSeverities(severities)
	return &sub, nil
}

func severitiesToStrings(in []models.Severity) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func stringsToSeverities(in []string) []models.Severity {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Severity, len(in))
	for i, s := range in {
		out[i] = models.Severity(s)
	}
	return out
}

// Compile-time check to ensure subscriptionRepo implements SubscriptionRepository.
var _ SubscriptionRepository = (*subscriptionRepo)(nil)
