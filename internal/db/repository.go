package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a charge id is unknown to the store.
var ErrNotFound = errors.New("charge not found")

type ChargeRepository struct {
	pool *pgxpool.Pool
}

func NewChargeRepository(pool *pgxpool.Pool) *ChargeRepository {
	return &ChargeRepository{pool: pool}
}

func (r *ChargeRepository) Create(ctx context.Context, entity *ChargeEntity) (*ChargeEntity, error) {
	query := `INSERT INTO charge (id, session_id, amount, description, payer_name, payer_document,
	          qr_payload, qr_image, provider_status, paid_at, simulated, created_at, expires_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	err := r.pool.QueryRow(ctx, query, entity.ID, entity.SessionID, entity.Amount, entity.Description,
		entity.PayerName, entity.PayerDocument, entity.QRPayload, entity.QRImage, entity.ProviderStatus,
		entity.PaidAt, entity.Simulated, entity.CreatedAt, entity.ExpiresAt, entity.UpdatedAt).Scan(&entity.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting charge")
	}
	return entity, nil
}

func (r *ChargeRepository) GetByID(ctx context.Context, id string) (*ChargeEntity, error) {
	query := `SELECT id, session_id, amount, description, payer_name, payer_document, qr_payload, qr_image,
	          provider_status, paid_at, notified_at, simulated, created_at, expires_at, updated_at
	          FROM charge WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)

	var entity ChargeEntity
	err := row.Scan(&entity.ID, &entity.SessionID, &entity.Amount, &entity.Description, &entity.PayerName,
		&entity.PayerDocument, &entity.QRPayload, &entity.QRImage, &entity.ProviderStatus, &entity.PaidAt,
		&entity.NotifiedAt, &entity.Simulated, &entity.CreatedAt, &entity.ExpiresAt, &entity.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "selecting charge")
	}
	return &entity, nil
}

func (r *ChargeRepository) UpdateProviderStatus(ctx context.Context, id string, status int) error {
	query := `UPDATE charge SET provider_status = $2, updated_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, status, time.Now().UTC())
	return errors.Wrap(err, "updating provider status")
}

// MarkPaid is the durable half of the sticky latch: paid_at is written
// only when still null. Simulated charges can never latch a payment.
// Reports whether this call latched it.
func (r *ChargeRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, status int) (bool, error) {
	query := `UPDATE charge SET paid_at = $2, provider_status = $3, updated_at = $4
	          WHERE id = $1 AND paid_at IS NULL AND NOT simulated`
	tag, err := r.pool.Exec(ctx, query, id, paidAt.UTC(), status, time.Now().UTC())
	if err != nil {
		return false, errors.Wrap(err, "marking charge paid")
	}
	return tag.RowsAffected() == 1, nil
}

// MarkNotified guards the confirmation message against double sends on
// event redelivery.
func (r *ChargeRepository) MarkNotified(ctx context.Context, id string, notifiedAt time.Time) (bool, error) {
	query := `UPDATE charge SET notified_at = $2, updated_at = $3
	          WHERE id = $1 AND notified_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, id, notifiedAt.UTC(), time.Now().UTC())
	if err != nil {
		return false, errors.Wrap(err, "marking charge notified")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ChargeRepository) RecordWebhookNotification(ctx context.Context, entity *WebhookNotificationEntity) error {
	query := `INSERT INTO webhook_notification (event_id, charge_id, event_type, payload, received_at)
	          VALUES ($1, $2, $3, $4, $5) ON CONFLICT (event_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, entity.EventID, entity.ChargeID, entity.EventType, entity.Payload, entity.ReceivedAt.UTC())
	return errors.Wrap(err, "recording webhook notification")
}

func (r *ChargeRepository) GetWebhookNotifications(ctx context.Context, chargeID string) ([]*WebhookNotificationEntity, error) {
	query := `SELECT event_id, charge_id, event_type, payload, received_at
	          FROM webhook_notification WHERE charge_id = $1 ORDER BY received_at`
	rows, err := r.pool.Query(ctx, query, chargeID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting webhook notifications")
	}
	defer rows.Close()

	var entities []*WebhookNotificationEntity
	for rows.Next() {
		var entity WebhookNotificationEntity
		if err := rows.Scan(&entity.EventID, &entity.ChargeID, &entity.EventType, &entity.Payload, &entity.ReceivedAt); err != nil {
			return nil, errors.Wrap(err, "scanning webhook notification")
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}
