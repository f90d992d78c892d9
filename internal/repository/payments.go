package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kassa/internal/database"
	"kassa/internal/models"
)

// PaymentRepository stores processed webhook keys and payment anomalies
type PaymentRepository struct {
	db *database.DB
}

func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) MarkProcessed(ctx context.Context, key, eventType, orderID, transactionID string, now time.Time) (bool, error) {
	res, err := r.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO payment_webhook_events (idempotency_key, event_type, order_id, transaction_id, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		key, eventType, orderID, transactionID, now)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetProcessed returns the notification recorded under key, nil when unseen.
func (r *PaymentRepository) GetProcessed(ctx context.Context, key string) (*models.ProcessedNotification, error) {
	var n models.ProcessedNotification
	err := r.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT idempotency_key, event_type, order_id, transaction_id, received_at
		FROM payment_webhook_events
		WHERE idempotency_key = $1`, key).
		Scan(&n.Key, &n.EventType, &n.OrderID, &n.TransactionID, &n.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &n, nil
}

func (r *PaymentRepository) RecordAnomaly(ctx context.Context, a *models.PaymentAnomaly) error {
	_, err := r.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO payment_anomalies (id, kind, order_id, provider_event_id, transaction_id, order_status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Kind, a.OrderID, a.ProviderEventID, a.TransactionID, a.OrderStatus, a.Details, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record anomaly: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ListAnomalies(ctx context.Context, limit int) ([]models.PaymentAnomaly, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `
		SELECT id, kind, order_id, provider_event_id, transaction_id, order_status, details, created_at
		FROM payment_anomalies
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []models.PaymentAnomaly
	for rows.Next() {
		var a models.PaymentAnomaly
		if err := rows.Scan(&a.ID, &a.Kind, &a.OrderID, &a.ProviderEventID, &a.TransactionID, &a.OrderStatus, &a.Details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}
