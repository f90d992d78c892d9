package models

import (
	"time"
)

// User represents an account allowed to call the API
type User struct {
	UserID       string    `json:"user_id" db:"user_id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	FirstName    string    `json:"first_name" db:"first_name"`
	Surname      string    `json:"surname" db:"surname"`
	Role         string    `json:"role" db:"role"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
	LastLoggedIn time.Time `json:"last_logged_in" db:"last_logged_in"`
}

const (
	RoleBuyer = "buyer"
	RoleAdmin = "admin"
)

type EventStatus string

const (
	EventDraft  EventStatus = "draft"
	EventOnSale EventStatus = "on_sale"
	EventClosed EventStatus = "closed"
)

// Event represents an event tickets are sold for
type Event struct {
	ID          string      `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	Description *string     `json:"description" db:"description"`
	Venue       string      `json:"venue" db:"venue"`
	StartsAt    time.Time   `json:"starts_at" db:"starts_at"`
	Status      EventStatus `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Sellable reports whether orders may be created for the event.
func (e *Event) Sellable() bool {
	return e.Status == EventOnSale
}

// TicketType is a priced class of tickets with a fixed capacity.
// Available + Reserved + Sold always equals CapacityTotal.
type TicketType struct {
	ID            string    `json:"id" db:"id"`
	EventID       string    `json:"event_id" db:"event_id"`
	Name          string    `json:"name" db:"name"`
	Price         int64     `json:"price" db:"price"`
	Currency      string    `json:"currency" db:"currency"`
	CapacityTotal int       `json:"capacity_total" db:"capacity_total"`
	Available     int       `json:"available" db:"available"`
	Reserved      int       `json:"reserved" db:"reserved"`
	Sold          int       `json:"sold" db:"sold"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Consistent checks the capacity invariant.
func (t *TicketType) Consistent() bool {
	return t.Available >= 0 && t.Reserved >= 0 && t.Sold >= 0 &&
		t.Available+t.Reserved+t.Sold == t.CapacityTotal
}

// OrderItem is one line of an order. Price and currency are copied from the
// ticket type when the order is created.
type OrderItem struct {
	TicketTypeID string `json:"ticket_type_id" db:"ticket_type_id"`
	UnitPrice    int64  `json:"unit_price" db:"unit_price"`
	Currency     string `json:"currency" db:"currency"`
	Quantity     int    `json:"quantity" db:"quantity"`
}

func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

type BuyerContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Order represents one purchase attempt
type Order struct {
	ID               string       `json:"id" db:"id"`
	EventID          string       `json:"event_id" db:"event_id"`
	BuyerID          string       `json:"buyer_id" db:"buyer_id"`
	Items            []OrderItem  `json:"items"`
	TotalAmount      int64        `json:"total_amount" db:"total_amount"`
	Currency         string       `json:"currency" db:"currency"`
	Status           OrderStatus  `json:"status" db:"status"`
	ExpiresAt        time.Time    `json:"expires_at" db:"expires_at"`
	PaymentReference *string      `json:"payment_reference,omitempty" db:"payment_reference"`
	PaymentID        *string      `json:"payment_id,omitempty" db:"payment_id"`
	Contact          BuyerContact `json:"contact"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// Quantity returns the number of units across all items.
func (o *Order) Quantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
)

// Ticket is one issued unit of a paid order
type Ticket struct {
	ID           string       `json:"id" db:"id"`
	OrderID      string       `json:"order_id" db:"order_id"`
	EventID      string       `json:"event_id" db:"event_id"`
	TicketTypeID string       `json:"ticket_type_id" db:"ticket_type_id"`
	OwnerID      string       `json:"owner_id" db:"owner_id"`
	QRPayload    string       `json:"qr_payload" db:"qr_payload"`
	Status       TicketStatus `json:"status" db:"status"`
	IssuedAt     time.Time    `json:"issued_at" db:"issued_at"`
}

type LedgerEntryType string

const (
	LedgerSale   LedgerEntryType = "sale"
	LedgerRefund LedgerEntryType = "refund"
	LedgerPayout LedgerEntryType = "payout"
	LedgerFee    LedgerEntryType = "fee"
)

// LedgerEntry is an append-only financial movement
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	Type      LedgerEntryType `json:"type" db:"type"`
	Amount    int64           `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	Reference string          `json:"reference" db:"reference"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type AnomalyKind string

const (
	AnomalyLatePayment       AnomalyKind = "late_payment"
	AnomalyDuplicatePayment  AnomalyKind = "duplicate_payment"
	AnomalyAmountMismatch    AnomalyKind = "amount_mismatch"
	AnomalyUnknownOrder      AnomalyKind = "unknown_order"
	AnomalyRefundWithoutSale AnomalyKind = "refund_without_sale"
	// a redelivered key or a repeated refund that disagrees with what was applied
	AnomalyDuplicateMismatch AnomalyKind = "duplicate_mismatch"
)

// PaymentAnomaly is a payment notification that could not be applied and
// needs manual reconciliation.
type PaymentAnomaly struct {
	ID              string      `json:"id" db:"id"`
	Kind            AnomalyKind `json:"kind" db:"kind"`
	OrderID         string      `json:"order_id" db:"order_id"`
	ProviderEventID string      `json:"provider_event_id" db:"provider_event_id"`
	TransactionID   string      `json:"transaction_id" db:"transaction_id"`
	OrderStatus     OrderStatus `json:"order_status" db:"order_status"`
	Details         string      `json:"details" db:"details"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// ProcessedNotification is what was applied under an idempotency key
type ProcessedNotification struct {
	Key           string    `json:"idempotency_key" db:"idempotency_key"`
	EventType     string    `json:"event_type" db:"event_type"`
	OrderID       string    `json:"order_id" db:"order_id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	ReceivedAt    time.Time `json:"received_at" db:"received_at"`
}

// Matches reports whether p is the same notification that was recorded.
func (n *ProcessedNotification) Matches(eventType, orderID, transactionID string) bool {
	return n.EventType == eventType && n.OrderID == orderID && n.TransactionID == transactionID
}

// AuditEntry records one lifecycle action on an order
type AuditEntry struct {
	OrderID   string    `json:"order_id" db:"order_id"`
	Action    string    `json:"action" db:"action"`
	Actor     string    `json:"actor" db:"actor"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const (
	AuditCreated       = "created"
	AuditCancelled     = "cancelled"
	AuditExpired       = "expired"
	AuditPaid          = "paid"
	AuditPaymentFailed = "payment_failed"
	AuditRefunded      = "refunded"
)

// EventSalesStats is the projection maintained from the order change stream
type EventSalesStats struct {
	EventID         string    `json:"event_id" db:"event_id"`
	OrdersPaid      int64     `json:"orders_paid" db:"orders_paid"`
	OrdersCancelled int64     `json:"orders_cancelled" db:"orders_cancelled"`
	OrdersExpired   int64     `json:"orders_expired" db:"orders_expired"`
	TicketsSold     int64     `json:"tickets_sold" db:"tickets_sold"`
	GrossAmount     int64     `json:"gross_amount" db:"gross_amount"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Identity is the authenticated caller of an operation
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (i Identity) Privileged() bool {
	return i.Role == RoleAdmin
}

// CanAccess reports whether the caller may read or change the order.
func (i Identity) CanAccess(o *Order) bool {
	return i.Privileged() || (i.UserID != "" && i.UserID == o.BuyerID)
}
