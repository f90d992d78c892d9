package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"kassa/internal/database"
	errs "kassa/internal/errors"
	"kassa/internal/models"
)

// TicketTypeRepository keeps the capacity counters. Counter updates are
// single guarded statements; a failed guard changes nothing.
type TicketTypeRepository struct {
	db *database.DB
}

func NewTicketTypeRepository(db *database.DB) *TicketTypeRepository {
	return &TicketTypeRepository{db: db}
}

const ticketTypeColumns = `id, event_id, name, price, currency, capacity_total, available, reserved, sold, created_at, updated_at`

func scanTicketType(row interface{ Scan(...any) error }) (*models.TicketType, error) {
	tt := &models.TicketType{}
	err := row.Scan(
		&tt.ID,
		&tt.EventID,
		&tt.Name,
		&tt.Price,
		&tt.Currency,
		&tt.CapacityTotal,
		&tt.Available,
		&tt.Reserved,
		&tt.Sold,
		&tt.CreatedAt,
		&tt.UpdatedAt,
	)
	return tt, err
}

func (r *TicketTypeRepository) Create(ctx context.Context, tt *models.TicketType) error {
	query := `
		INSERT INTO ticket_types (id, event_id, name, price, currency, capacity_total, available, reserved, sold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Querier(ctx).ExecContext(ctx, query,
		tt.ID, tt.EventID, tt.Name, tt.Price, tt.Currency,
		tt.CapacityTotal, tt.Available, tt.Reserved, tt.Sold,
		tt.CreatedAt, tt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ticket type: %w", err)
	}
	return nil
}

func (r *TicketTypeRepository) ListByEvent(ctx context.Context, eventID string) ([]models.TicketType, error) {
	if !validID(eventID) {
		return nil, nil
	}

	rows, err := r.db.Querier(ctx).QueryContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY price, name`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket types: %w", err)
	}
	defer rows.Close()

	var types []models.TicketType
	for rows.Next() {
		tt, err := scanTicketType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket type: %w", err)
		}
		types = append(types, *tt)
	}
	return types, rows.Err()
}

// GetForUpdate locks the rows in id order. Missing ids are absent from the map.
func (r *TicketTypeRepository) GetForUpdate(ctx context.Context, ids []string) (map[string]*models.TicketType, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}

	result := make(map[string]*models.TicketType, len(valid))
	if len(valid) == 0 {
		return result, nil
	}

	rows, err := r.db.Querier(ctx).QueryContext(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
		pq.Array(valid))
	if err != nil {
		return nil, fmt.Errorf("failed to lock ticket types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tt, err := scanTicketType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket type: %w", err)
		}
		result[tt.ID] = tt
	}
	return result, rows.Err()
}

func (r *TicketTypeRepository) Reserve(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE ticket_types
		SET available = available - $2, reserved = reserved + $2, updated_at = NOW()
		WHERE id = $1 AND available >= $2`

	ok, err := r.guardedUpdate(ctx, query, id, qty)
	if err != nil {
		return err
	}
	if !ok {
		return errs.E(errs.ResourceExhausted, "not enough tickets of type %s", id)
	}
	return nil
}

func (r *TicketTypeRepository) Release(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE ticket_types
		SET available = available + $2, reserved = reserved - $2, updated_at = NOW()
		WHERE id = $1 AND reserved >= $2`

	ok, err := r.guardedUpdate(ctx, query, id, qty)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ticket type %s has fewer than %d reserved tickets", id, qty)
	}
	return nil
}

// Commit converts reserved tickets into sold ones.
func (r *TicketTypeRepository) Commit(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE ticket_types
		SET reserved = reserved - $2, sold = sold + $2, updated_at = NOW()
		WHERE id = $1 AND reserved >= $2`

	ok, err := r.guardedUpdate(ctx, query, id, qty)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ticket type %s has fewer than %d reserved tickets", id, qty)
	}
	return nil
}

func (r *TicketTypeRepository) guardedUpdate(ctx context.Context, query, id string, qty int) (bool, error) {
	if qty <= 0 {
		return false, errs.E(errs.InvalidArgument, "quantity must be positive")
	}

	res, err := r.db.Querier(ctx).ExecContext(ctx, query, id, qty)
	if err != nil {
		return false, fmt.Errorf("failed to update ticket type %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
