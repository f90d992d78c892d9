package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kassa/internal/database"
	errs "kassa/internal/errors"
	"kassa/internal/models"
)

// LedgerRepository is append-only
type LedgerRepository struct {
	db *database.DB
}

func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, e *models.LedgerEntry) error {
	_, err := r.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO ledger_entries (id, order_id, type, amount, currency, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OrderID, e.Type, e.Amount, e.Currency, e.Reference, e.CreatedAt)
	if database.IsUniqueViolation(err) {
		return errs.E(errs.FailedPrecondition, "order %s already has a %s entry", e.OrderID, e.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// FindEntry returns the oldest entry of the given type, nil when there is none.
func (r *LedgerRepository) FindEntry(ctx context.Context, orderID string, entryType models.LedgerEntryType) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, order_id, type, amount, currency, reference, created_at
		FROM ledger_entries
		WHERE order_id = $1 AND type = $2
		ORDER BY created_at
		LIMIT 1`, orderID, entryType).
		Scan(&e.ID, &e.OrderID, &e.Type, &e.Amount, &e.Currency, &e.Reference, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entry: %w", err)
	}
	return &e, nil
}

func (r *LedgerRepository) ListByOrder(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `
		SELECT id, order_id, type, amount, currency, reference, created_at
		FROM ledger_entries
		WHERE order_id = $1
		ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Type, &e.Amount, &e.Currency, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
