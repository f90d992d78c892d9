package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createUsersTable,
		createEventsTable,
		createTicketTypesTable,
		createOrdersTable,
		createOrderItemsTable,
		createTicketsTable,
		createLedgerEntriesTable,
		createPaymentWebhookEventsTable,
		createPaymentAnomaliesTable,
		createOrderAuditLogTable,
		createEventSalesStatsTable,
		createProjectionInboxTable,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    user_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email VARCHAR(255) UNIQUE NOT NULL,
    password_hash VARCHAR(64) NOT NULL,
    first_name VARCHAR(100) NOT NULL DEFAULT '',
    surname VARCHAR(100) NOT NULL DEFAULT '',
    role VARCHAR(20) NOT NULL DEFAULT 'buyer',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_logged_in TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (role IN ('buyer', 'admin'))
);`

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY,
    title VARCHAR(500) NOT NULL,
    description TEXT,
    venue VARCHAR(500) NOT NULL DEFAULT '',
    starts_at TIMESTAMPTZ NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'draft',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('draft', 'on_sale', 'closed'))
);
CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events(starts_at);`

// available + reserved + sold = capacity_total is enforced per row.
const createTicketTypesTable = `
CREATE TABLE IF NOT EXISTS ticket_types (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    name VARCHAR(200) NOT NULL,
    price BIGINT NOT NULL,
    currency CHAR(3) NOT NULL,
    capacity_total INTEGER NOT NULL,
    available INTEGER NOT NULL,
    reserved INTEGER NOT NULL DEFAULT 0,
    sold INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (price >= 0),
    CHECK (available >= 0 AND reserved >= 0 AND sold >= 0),
    CHECK (available + reserved + sold = capacity_total)
);
CREATE INDEX IF NOT EXISTS idx_ticket_types_event_id ON ticket_types(event_id);`

const createOrdersTable = `
CREATE TABLE IF NOT EXISTS orders (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES events(id),
    buyer_id VARCHAR(64) NOT NULL,
    total_amount BIGINT NOT NULL,
    currency CHAR(3) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    expires_at TIMESTAMPTZ NOT NULL,
    payment_reference VARCHAR(255),
    payment_id VARCHAR(255),
    contact_name VARCHAR(255) NOT NULL DEFAULT '',
    contact_email VARCHAR(255) NOT NULL DEFAULT '',
    contact_phone VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('pending', 'paid', 'cancelled', 'expired')),
    CHECK (status <> 'paid' OR payment_reference IS NOT NULL)
);
CREATE INDEX IF NOT EXISTS idx_orders_pending_expires_at ON orders(expires_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_orders_buyer_id ON orders(buyer_id, created_at DESC);`

const createOrderItemsTable = `
CREATE TABLE IF NOT EXISTS order_items (
    order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    ticket_type_id UUID NOT NULL REFERENCES ticket_types(id),
    unit_price BIGINT NOT NULL,
    currency CHAR(3) NOT NULL,
    quantity INTEGER NOT NULL,

    PRIMARY KEY (order_id, ticket_type_id),
    CHECK (quantity > 0)
);`

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id),
    event_id UUID NOT NULL REFERENCES events(id),
    ticket_type_id UUID NOT NULL REFERENCES ticket_types(id),
    owner_id VARCHAR(64) NOT NULL,
    qr_payload TEXT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('active', 'used', 'cancelled', 'refunded'))
);
CREATE INDEX IF NOT EXISTS idx_tickets_order_id ON tickets(order_id);`

const createLedgerEntriesTable = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id),
    type VARCHAR(20) NOT NULL,
    amount BIGINT NOT NULL,
    currency CHAR(3) NOT NULL,
    reference VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (type IN ('sale', 'refund', 'payout', 'fee'))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_entries_sale ON ledger_entries(order_id) WHERE type = 'sale';
CREATE UNIQUE INDEX IF NOT EXISTS uq_ledger_entries_refund ON ledger_entries(order_id) WHERE type = 'refund';`

const createPaymentWebhookEventsTable = `
CREATE TABLE IF NOT EXISTS payment_webhook_events (
    idempotency_key VARCHAR(255) PRIMARY KEY,
    event_type VARCHAR(50) NOT NULL,
    order_id VARCHAR(64) NOT NULL DEFAULT '',
    transaction_id VARCHAR(255) NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createPaymentAnomaliesTable = `
CREATE TABLE IF NOT EXISTS payment_anomalies (
    id UUID PRIMARY KEY,
    kind VARCHAR(50) NOT NULL,
    order_id VARCHAR(64) NOT NULL DEFAULT '',
    provider_event_id VARCHAR(255) NOT NULL DEFAULT '',
    transaction_id VARCHAR(255) NOT NULL DEFAULT '',
    order_status VARCHAR(20) NOT NULL DEFAULT '',
    details TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE payment_anomalies DROP CONSTRAINT IF EXISTS payment_anomalies_kind_check;
ALTER TABLE payment_anomalies ADD CONSTRAINT payment_anomalies_kind_check
    CHECK (kind IN ('late_payment', 'duplicate_payment', 'amount_mismatch', 'unknown_order', 'refund_without_sale', 'duplicate_mismatch'));
CREATE INDEX IF NOT EXISTS idx_payment_anomalies_created_at ON payment_anomalies(created_at DESC);`

const createOrderAuditLogTable = `
CREATE TABLE IF NOT EXISTS order_audit_log (
    id BIGSERIAL PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id),
    action VARCHAR(30) NOT NULL,
    actor VARCHAR(64) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_order_audit_log_order_id ON order_audit_log(order_id);`

const createEventSalesStatsTable = `
CREATE TABLE IF NOT EXISTS event_sales_stats (
    event_id UUID PRIMARY KEY,
    orders_paid BIGINT NOT NULL DEFAULT 0,
    orders_cancelled BIGINT NOT NULL DEFAULT 0,
    orders_expired BIGINT NOT NULL DEFAULT 0,
    tickets_sold BIGINT NOT NULL DEFAULT 0,
    gross_amount BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createProjectionInboxTable = `
CREATE TABLE IF NOT EXISTS projection_inbox (
    message_key VARCHAR(255) PRIMARY KEY,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`
