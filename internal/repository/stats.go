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

// StatsRepository maintains the event_sales_stats projection
type StatsRepository struct {
	db *database.DB
}

func NewStatsRepository(db *database.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// StatsDelta is the change one change-stream message applies
type StatsDelta struct {
	OrdersPaid      int64
	OrdersCancelled int64
	OrdersExpired   int64
	TicketsSold     int64
	GrossAmount     int64
}

// Apply adds delta to the event's counters unless messageKey was applied
// before. It reports whether the delta was applied.
func (r *StatsRepository) Apply(ctx context.Context, messageKey, eventID string, delta StatsDelta, now time.Time) (bool, error) {
	applied := false

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.Querier(ctx)

		res, err := q.ExecContext(ctx,
			`INSERT INTO projection_inbox (message_key, processed_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			messageKey, now)
		if err != nil {
			return fmt.Errorf("failed to record message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO event_sales_stats (event_id, orders_paid, orders_cancelled, orders_expired, tickets_sold, gross_amount, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO UPDATE SET
				orders_paid = event_sales_stats.orders_paid + EXCLUDED.orders_paid,
				orders_cancelled = event_sales_stats.orders_cancelled + EXCLUDED.orders_cancelled,
				orders_expired = event_sales_stats.orders_expired + EXCLUDED.orders_expired,
				tickets_sold = event_sales_stats.tickets_sold + EXCLUDED.tickets_sold,
				gross_amount = event_sales_stats.gross_amount + EXCLUDED.gross_amount,
				updated_at = EXCLUDED.updated_at`,
			eventID, delta.OrdersPaid, delta.OrdersCancelled, delta.OrdersExpired, delta.TicketsSold, delta.GrossAmount, now)
		if err != nil {
			return fmt.Errorf("failed to update sales stats: %w", err)
		}

		applied = true
		return nil
	})
	return applied, err
}

// GetByEvent returns nil when nothing was projected for the event yet.
func (r *StatsRepository) GetByEvent(ctx context.Context, eventID string) (*models.EventSalesStats, error) {
	if !validID(eventID) {
		return nil, nil
	}

	s := &models.EventSalesStats{}
	err := r.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT event_id, orders_paid, orders_cancelled, orders_expired, tickets_sold, gross_amount, updated_at
		FROM event_sales_stats
		WHERE event_id = $1`, eventID).Scan(
		&s.EventID, &s.OrdersPaid, &s.OrdersCancelled, &s.OrdersExpired, &s.TicketsSold, &s.GrossAmount, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sales stats: %w", err)
	}
	return s, nil
}
