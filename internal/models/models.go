package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateTicketTypeRequest - ticket type inside an event creation request
type CreateTicketTypeRequest struct {
	Name     string `json:"name" binding:"required"`
	Price    int64  `json:"price" binding:"min=0"`
	Currency string `json:"currency" binding:"required,len=3"`
	Capacity int    `json:"capacity" binding:"required,min=1"`
}

// CreateEventRequest - модель для создания события
type CreateEventRequest struct {
	Title       string                    `json:"title" binding:"required"`
	Description *string                   `json:"description,omitempty"`
	Venue       string                    `json:"venue"`
	StartsAt    time.Time                 `json:"starts_at" binding:"required"`
	TicketTypes []CreateTicketTypeRequest `json:"ticket_types" binding:"required,min=1,dive"`
}

// CreateEventResponse - модель ответа при создании события
type CreateEventResponse struct {
	ID          string   `json:"id"`
	TicketTypes []string `json:"ticket_type_ids"`
}

// UpdateEventStatusRequest - перевод события в другой статус продаж
type UpdateEventStatusRequest struct {
	Status EventStatus `json:"status" binding:"required"`
}

// EventDetailsResponse - событие вместе с типами билетов и остатками
type EventDetailsResponse struct {
	Event       Event        `json:"event"`
	TicketTypes []TicketType `json:"ticket_types"`
}

// ListEventsResponseItem - элемент списка событий
type ListEventsResponseItem struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	StartsAt time.Time   `json:"starts_at"`
	Status   EventStatus `json:"status"`
}

// EventFilter - параметры поиска событий
type EventFilter struct {
	Query  string
	Date   *time.Time
	Status EventStatus
	Page   int
	Size   int
}

// Normalize clamps paging to sane bounds.
func (f *EventFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size <= 0 || f.Size > 100 {
		f.Size = 20
	}
}

// Offset returns the number of rows to skip.
func (f EventFilter) Offset() int {
	return (f.Page - 1) * f.Size
}

// ListEventsResponse - список событий
type ListEventsResponse []ListEventsResponseItem

// OrderItemRequest - строка заказа
type OrderItemRequest struct {
	TicketTypeID string `json:"ticket_type_id" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest - модель для создания заказа
type CreateOrderRequest struct {
	EventID string             `json:"event_id" binding:"required"`
	Items   []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Contact BuyerContact       `json:"contact"`
}

// CreateOrderResponse - модель ответа при создании заказа
type CreateOrderResponse struct {
	ID          string    `json:"id"`
	TotalAmount int64     `json:"total_amount"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// OrderResponse - заказ вместе с выпущенными билетами
type OrderResponse struct {
	Order   Order    `json:"order"`
	Tickets []Ticket `json:"tickets"`
}

// ListOrdersResponseItem - элемент списка заказов
type ListOrdersResponseItem struct {
	ID          string      `json:"id"`
	EventID     string      `json:"event_id"`
	Status      OrderStatus `json:"status"`
	TotalAmount int64       `json:"total_amount"`
	Currency    string      `json:"currency"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Payment notification event types
const (
	PaymentSucceeded = "payment.succeeded"
	PaymentFailed    = "payment.failed"
	RefundSucceeded  = "refund.succeeded"
)

// PaymentNotificationPayload - модель для webhook уведомлений от платежного шлюза
type PaymentNotificationPayload struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// IdempotencyKey identifies the notification for duplicate detection.
func (p *PaymentNotificationPayload) IdempotencyKey() string {
	if p.EventID != "" {
		return p.EventID
	}
	return p.TransactionID + ":" + p.EventType
}

// Notification outcomes
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeAnomaly   = "anomaly"
	OutcomeIgnored   = "ignored"
)

// NotificationResult - итог обработки уведомления
type NotificationResult struct {
	Outcome string      `json:"outcome"`
	OrderID string      `json:"order_id,omitempty"`
	Anomaly AnomalyKind `json:"anomaly,omitempty"`
}

// AnalyticsResponse - модель ответа аналитики для события
type AnalyticsResponse struct {
	EventID         string `json:"event_id"`
	Capacity        int64  `json:"capacity"`
	Available       int64  `json:"available"`
	Reserved        int64  `json:"reserved"`
	Sold            int64  `json:"sold"`
	OrdersPaid      int64  `json:"orders_paid"`
	OrdersCancelled int64  `json:"orders_cancelled"`
	OrdersExpired   int64  `json:"orders_expired"`
	GrossAmount     int64  `json:"gross_amount"`
}

// SweepResult - итог одного прохода по просроченным заказам
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
