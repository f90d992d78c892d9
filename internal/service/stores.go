package service

import (
	"context"
	"time"

	"kassa/internal/models"
)

// Transactor runs fn atomically. Store calls made with the ctx passed to fn
// join the transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventStore interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	UpdateStatus(ctx context.Context, id string, status models.EventStatus, now time.Time) error
}

// TicketTypeStore holds the capacity counters. Reserve, Release and Commit
// are guarded updates: they fail instead of driving a counter negative.
type TicketTypeStore interface {
	Create(ctx context.Context, tt *models.TicketType) error
	ListByEvent(ctx context.Context, eventID string) ([]models.TicketType, error)
	GetForUpdate(ctx context.Context, ids []string) (map[string]*models.TicketType, error)
	Reserve(ctx context.Context, id string, qty int) error
	Release(ctx context.Context, id string, qty int) error
	Commit(ctx context.Context, id string, qty int) error
}

type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetForUpdate(ctx context.Context, id string) (*models.Order, error)
	// TransitionStatus moves the order from one status to another only if it
	// is still in from.
	TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus, paymentRef *string, now time.Time) error
	SetPaymentID(ctx context.Context, id, paymentID string, now time.Time) error
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]models.Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
}

type TicketStore interface {
	CreateBatch(ctx context.Context, tickets []models.Ticket) error
	ListByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	UpdateStatusByOrder(ctx context.Context, orderID string, status models.TicketStatus) (int, error)
}

type LedgerStore interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	// FindEntry returns nil when the order has no entry of that type.
	FindEntry(ctx context.Context, orderID string, entryType models.LedgerEntryType) (*models.LedgerEntry, error)
}

type PaymentEventStore interface {
	// MarkProcessed records the idempotency key; false means it was seen before.
	MarkProcessed(ctx context.Context, key, eventType, orderID, transactionID string, now time.Time) (bool, error)
	GetProcessed(ctx context.Context, key string) (*models.ProcessedNotification, error)
	RecordAnomaly(ctx context.Context, anomaly *models.PaymentAnomaly) error
	ListAnomalies(ctx context.Context, limit int) ([]models.PaymentAnomaly, error)
}

type StatsStore interface {
	GetByEvent(ctx context.Context, eventID string) (*models.EventSalesStats, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Stores groups the persistence dependencies of the services
type Stores struct {
	Tx          Transactor
	Events      EventStore
	TicketTypes TicketTypeStore
	Orders      OrderStore
	Tickets     TicketStore
	Ledger      LedgerStore
	Payments    PaymentEventStore
	Stats       StatsStore
}
