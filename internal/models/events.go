package models

import "time"

// NATS subjects of the order change stream
const (
	EventOrderCreated   = "order.created"
	EventOrderCancelled = "order.cancelled"
	EventOrderExpired   = "order.expired"
	EventOrderPaid      = "order.paid"
	EventTicketsIssued  = "tickets.issued"
	EventPaymentAnomaly = "payment.anomaly"
)

// OrderCreatedEvent represents an order creation event
type OrderCreatedEvent struct {
	OrderID     string    `json:"order_id"`
	EventID     string    `json:"event_id"`
	BuyerID     string    `json:"buyer_id"`
	Quantity    int       `json:"quantity"`
	TotalAmount int64     `json:"total_amount"`
	ExpiresAt   time.Time `json:"expires_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrderReleasedEvent is published when a pending order is cancelled or expires
type OrderReleasedEvent struct {
	OrderID   string      `json:"order_id"`
	EventID   string      `json:"event_id"`
	BuyerID   string      `json:"buyer_id"`
	Status    OrderStatus `json:"status"`
	Quantity  int         `json:"quantity"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderPaidEvent represents a fulfilled order
type OrderPaidEvent struct {
	OrderID          string    `json:"order_id"`
	EventID          string    `json:"event_id"`
	BuyerID          string    `json:"buyer_id"`
	PaymentReference string    `json:"payment_reference"`
	Quantity         int       `json:"quantity"`
	TotalAmount      int64     `json:"total_amount"`
	Currency         string    `json:"currency"`
	Timestamp        time.Time `json:"timestamp"`
}

// TicketsIssuedEvent lets downstream consumers (email, QR images) pick up new tickets
type TicketsIssuedEvent struct {
	OrderID   string    `json:"order_id"`
	EventID   string    `json:"event_id"`
	OwnerID   string    `json:"owner_id"`
	TicketIDs []string  `json:"ticket_ids"`
	Contact   string    `json:"contact,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentAnomalyEvent mirrors a recorded PaymentAnomaly
type PaymentAnomalyEvent struct {
	AnomalyID       string      `json:"anomaly_id"`
	Kind            AnomalyKind `json:"kind"`
	OrderID         string      `json:"order_id"`
	ProviderEventID string      `json:"provider_event_id"`
	TransactionID   string      `json:"transaction_id"`
	Timestamp       time.Time   `json:"timestamp"`
}
