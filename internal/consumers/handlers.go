package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/stan.go"

	"kassa/internal/clock"
	"kassa/internal/logger"
	"kassa/internal/models"
	"kassa/internal/repository"
)

// errMalformed marks messages that will never decode; they are acked and dropped.
var errMalformed = errors.New("malformed message")

// StatsProjector applies a change-stream message to event_sales_stats at most once
type StatsProjector interface {
	Apply(ctx context.Context, messageKey, eventID string, delta repository.StatsDelta, now time.Time) (bool, error)
}

// MessageHandler processes one message body. A returned error leaves the
// message unacked so NATS Streaming redelivers it after AckWait.
type MessageHandler func(ctx context.Context, data []byte) error

type Handlers struct {
	stats StatsProjector
	clock clock.Clock
}

func NewHandlers(stats StatsProjector, clk clock.Clock) *Handlers {
	return &Handlers{stats: stats, clock: clk}
}

// Subscriptions maps subjects to their handlers.
func (h *Handlers) Subscriptions() map[string]MessageHandler {
	return map[string]MessageHandler{
		models.EventOrderCreated:   h.HandleOrderCreated,
		models.EventOrderPaid:      h.HandleOrderPaid,
		models.EventOrderCancelled: h.HandleOrderReleased,
		models.EventOrderExpired:   h.HandleOrderReleased,
		models.EventTicketsIssued:  h.HandleTicketsIssued,
		models.EventPaymentAnomaly: h.HandlePaymentAnomaly,
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

func (h *Handlers) project(ctx context.Context, subject, orderID, eventID string, delta repository.StatsDelta) error {
	applied, err := h.stats.Apply(ctx, subject+":"+orderID, eventID, delta, h.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to project %s for order %s: %w", subject, orderID, err)
	}
	if !applied {
		logger.WithContext(ctx).Debug("Message already projected", "subject", subject, "order_id", orderID)
	}
	return nil
}

func (h *Handlers) HandleOrderCreated(ctx context.Context, data []byte) error {
	var event models.OrderCreatedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	logger.WithContext(ctx).Info("Order created",
		"order_id", event.OrderID, "event_id", event.EventID, "quantity", event.Quantity, "expires_at", event.ExpiresAt)
	return nil
}

func (h *Handlers) HandleOrderPaid(ctx context.Context, data []byte) error {
	var event models.OrderPaidEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	return h.project(ctx, models.EventOrderPaid, event.OrderID, event.EventID, repository.StatsDelta{
		OrdersPaid:  1,
		TicketsSold: int64(event.Quantity),
		GrossAmount: event.TotalAmount,
	})
}

// HandleOrderReleased counts cancelled and expired orders.
func (h *Handlers) HandleOrderReleased(ctx context.Context, data []byte) error {
	var event models.OrderReleasedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	var delta repository.StatsDelta
	subject := models.EventOrderCancelled
	switch event.Status {
	case models.OrderCancelled:
		delta.OrdersCancelled = 1
	case models.OrderExpired:
		delta.OrdersExpired = 1
		subject = models.EventOrderExpired
	default:
		return fmt.Errorf("%w: unexpected released status %q", errMalformed, event.Status)
	}

	return h.project(ctx, subject, event.OrderID, event.EventID, delta)
}

func (h *Handlers) HandleTicketsIssued(ctx context.Context, data []byte) error {
	var event models.TicketsIssuedEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	// delivery of tickets to the buyer hooks in here
	logger.WithContext(ctx).Info("Tickets issued",
		"order_id", event.OrderID, "owner_id", event.OwnerID, "tickets", len(event.TicketIDs))
	return nil
}

func (h *Handlers) HandlePaymentAnomaly(ctx context.Context, data []byte) error {
	var event models.PaymentAnomalyEvent
	if err := decode(data, &event); err != nil {
		return err
	}

	logger.WithContext(ctx).Error("Payment anomaly requires reconciliation",
		"anomaly_id", event.AnomalyID, "kind", event.Kind, "order_id", event.OrderID,
		"transaction_id", event.TransactionID)
	return nil
}

// process runs h and reports whether the message should be acked.
func process(ctx context.Context, subject string, h MessageHandler, data []byte) bool {
	err := h(ctx, data)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errMalformed):
		logger.WithContext(ctx).Error("Dropping malformed message", "subject", subject, "error", err)
		return true
	default:
		logger.WithContext(ctx).Error("Failed to process message, awaiting redelivery", "subject", subject, "error", err)
		return false
	}
}

// Acking adapts h to a manual-ack NATS Streaming subscription.
func Acking(subject string, h MessageHandler) stan.MsgHandler {
	return func(m *stan.Msg) {
		ctx := logger.ContextWithRequestID(context.Background(), fmt.Sprintf("%s/%d", subject, m.Sequence))
		if !process(ctx, subject, h, m.Data) {
			return
		}
		if err := m.Ack(); err != nil {
			logger.WithContext(ctx).Error("Failed to ack message", "subject", subject, "error", err)
		}
	}
}
