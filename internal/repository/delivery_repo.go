package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookbridge/hookbridge/internal/models"
)

// DeliveryRepository persists delivery outcomes as an audit trail. The
// delivery engine records asynchronously; the in-process dead letter queue
// remains the replay surface.
type DeliveryRepository interface {
	RecordDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*models.WebhookDelivery, error)
	ListByStatus(ctx context.Context, status models.DeliveryStatus, limit int) ([]*models.WebhookDelivery, error)
}

type deliveryRepo struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository creates a new delivery audit repository.
func NewDeliveryRepository(pool *pgxpool.Pool) DeliveryRepository {
	return &deliveryRepo{pool: pool}
}

const deliveryColumns = `id, subscription_id, event_id, status, attempt_number, max_attempts, request_url, response_status, response_body, error_code, error_message, started_at, completed_at`

// RecordDelivery upserts the delivery record; a series is written once per
// terminal state but retried writes must stay idempotent.
func (r *deliveryRepo) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, subscription_id, event_id, status, attempt_number, max_attempts, request_url, response_status, response_body, error_code, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempt_number = EXCLUDED.attempt_number,
		    response_status = EXCLUDED.response_status,
		    response_body = EXCLUDED.response_body,
		    error_code = EXCLUDED.error_code,
		    error_message = EXCLUDED.error_message,
		    completed_at = EXCLUDED.completed_at`

	var responseStatus *int
	if d.ResponseStatus != 0 {
		responseStatus = &d.ResponseStatus
	}

	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.SubscriptionID,
		d.EventID,
		d.Status,
		d.AttemptNumber,
		d.MaxAttempts,
		d.RequestURL,
		responseStatus,
		d.ResponseBody,
		nullable(d.ErrorCode),
		nullable(d.ErrorMessage),
		d.StartedAt,
		d.CompletedAt,
	)
	return err
}

// GetByID retrieves one delivery record. Returns nil when not found.
func (r *deliveryRepo) GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// ListBySubscription returns recent deliveries for one subscription.
func (r *deliveryRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE subscription_id = $1 ORDER BY started_at DESC LIMIT $2`
	return r.list(ctx, query, subscriptionID, clampLimit(limit))
}

// ListByStatus returns recent deliveries in a given status.
func (r *deliveryRepo) ListByStatus(ctx context.Context, status models.DeliveryStatus, limit int) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE status = $1 ORDER BY started_at DESC LIMIT $2`
	return r.list(ctx, query, status, clampLimit(limit))
}

func (r *deliveryRepo) list(ctx context.Context, query string, args ...any) ([]*models.WebhookDelivery, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(row pgx.Row) (*models.WebhookDelivery, error) {
	var (
		d              models.WebhookDelivery
		responseStatus *int
		errorCode      *string
		errorMessage   *string
	)
	err := row.Scan(
		&d.ID,
		&d.SubscriptionID,
		&d.EventID,
		&d.Status,
		&d.AttemptNumber,
		&d.MaxAttempts,
		&d.RequestURL,
		&responseStatus,
		&d.ResponseBody,
		&errorCode,
		&errorMessage,
		&d.StartedAt,
		&d.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if responseStatus != nil {
		d.ResponseStatus = *responseStatus
	}
	if errorCode != nil {
		d.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		d.ErrorMessage = *errorMessage
	}
	return &d, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}

// Compile-time check to ensure deliveryRepo implements DeliveryRepository.
var _ DeliveryRepository = (*deliveryRepo)(nil)
