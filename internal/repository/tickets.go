package repository

import (
	"context"
	"fmt"

	"kassa/internal/database"
	"kassa/internal/models"
)

type TicketRepository struct {
	db *database.DB
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) CreateBatch(ctx context.Context, tickets []models.Ticket) error {
	q := r.db.Querier(ctx)
	for _, t := range tickets {
		_, err := q.ExecContext(ctx, `
			INSERT INTO tickets (id, order_id, event_id, ticket_type_id, owner_id, qr_payload, status, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.OrderID, t.EventID, t.TicketTypeID, t.OwnerID, t.QRPayload, t.Status, t.IssuedAt)
		if err != nil {
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
	}
	return nil
}

func (r *TicketRepository) ListByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	if !validID(orderID) {
		return nil, nil
	}

	rows, err := r.db.Querier(ctx).QueryContext(ctx, `
		SELECT id, order_id, event_id, ticket_type_id, owner_id, qr_payload, status, issued_at
		FROM tickets
		WHERE order_id = $1
		ORDER BY issued_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.OrderID, &t.EventID, &t.TicketTypeID, &t.OwnerID, &t.QRPayload, &t.Status, &t.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *TicketRepository) UpdateStatusByOrder(ctx context.Context, orderID string, status models.TicketStatus) (int, error) {
	res, err := r.db.Querier(ctx).ExecContext(ctx,
		`UPDATE tickets SET status = $2 WHERE order_id = $1 AND status <> $2`, orderID, status)
	if err != nil {
		return 0, fmt.Errorf("failed to update tickets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
