package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kassa/internal/database"
	errs "kassa/internal/errors"
	"kassa/internal/models"
)

type OrderRepository struct {
	db *database.DB
}

func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, event_id, buyer_id, total_amount, currency, status, expires_at,
	payment_reference, payment_id, contact_name, contact_email, contact_phone, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID,
		&o.EventID,
		&o.BuyerID,
		&o.TotalAmount,
		&o.Currency,
		&o.Status,
		&o.ExpiresAt,
		&o.PaymentReference,
		&o.PaymentID,
		&o.Contact.Name,
		&o.Contact.Email,
		&o.Contact.Phone,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	q := r.db.Querier(ctx)

	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, event_id, buyer_id, total_amount, currency, status, expires_at,
			contact_name, contact_email, contact_phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.EventID, o.BuyerID, o.TotalAmount, o.Currency, o.Status, o.ExpiresAt,
		o.Contact.Name, o.Contact.Email, o.Contact.Phone, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, ticket_type_id, unit_price, currency, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, item.TicketTypeID, item.UnitPrice, item.Currency, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate locks the order row until the surrounding transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return r.get(ctx, id, true)
}

func (r *OrderRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Order, error) {
	if !validID(id) {
		return nil, errs.E(errs.NotFound, "order %s not found", id)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(r.db.Querier(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.NotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.Items, err = r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `
		SELECT ticket_type_id, unit_price, currency, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY ticket_type_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.TicketTypeID, &item.UnitPrice, &item.Currency, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// TransitionStatus is a compare-and-set on status: it fails with
// FailedPrecondition when the order is no longer in from.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus, paymentRef *string, now time.Time) error {
	res, err := r.db.Querier(ctx).ExecContext(ctx, `
		UPDATE orders
		SET status = $3, payment_reference = COALESCE($4, payment_reference), updated_at = $5
		WHERE id = $1 AND status = $2`,
		id, from, to, paymentRef, now)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.E(errs.FailedPrecondition, "order %s is no longer %s", id, from)
	}
	return nil
}

func (r *OrderRepository) SetPaymentID(ctx context.Context, id, paymentID string, now time.Time) error {
	_, err := r.db.Querier(ctx).ExecContext(ctx,
		`UPDATE orders SET payment_id = $2, updated_at = $3 WHERE id = $1`, id, paymentID, now)
	if err != nil {
		return fmt.Errorf("failed to set payment id: %w", err)
	}
	return nil
}

// ListByBuyer returns the newest orders first, without items.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]models.Order, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC LIMIT $2`,
		buyerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ListExpired returns ids of pending orders whose expiry is not after now,
// oldest first.
func (r *OrderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *OrderRepository) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	_, err := r.db.Querier(ctx).ExecContext(ctx,
		`INSERT INTO order_audit_log (order_id, action, actor, created_at) VALUES ($1, $2, $3, $4)`,
		entry.OrderID, entry.Action, entry.Actor, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *OrderRepository) ListAudit(ctx context.Context, orderID string) ([]models.AuditEntry, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx,
		`SELECT order_id, action, actor, created_at FROM order_audit_log WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.OrderID, &e.Action, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
