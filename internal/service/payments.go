package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kassa/internal/clock"
	errs "kassa/internal/errors"
	"kassa/internal/external"
	"kassa/internal/logger"
	"kassa/internal/metrics"
	"kassa/internal/models"
)

const gatewayActor = "system:payment-gateway"

// PaymentService applies payment provider notifications to orders
type PaymentService struct {
	stores    Stores
	lifecycle lifecycle
	verifier  *external.WebhookVerifier
	qr        *QRSigner
	publisher Publisher
	clock     clock.Clock
}

func NewPaymentService(stores Stores, verifier *external.WebhookVerifier, qr *QRSigner, publisher Publisher, clk clock.Clock) *PaymentService {
	return &PaymentService{
		stores:    stores,
		lifecycle: lifecycle{orders: stores.Orders, types: stores.TicketTypes},
		verifier:  verifier,
		qr:        qr,
		publisher: publisher,
		clock:     clk,
	}
}

// notificationEffects collects what to announce once the transaction commits.
type notificationEffects struct {
	result     models.NotificationResult
	order      *models.Order
	transition models.OrderStatus
	tickets    []models.Ticket
	anomaly    *models.PaymentAnomaly
}

// HandleNotification verifies and applies one webhook delivery. Redelivery
// of an already applied notification returns outcome duplicate without
// touching state. Any returned error must fail the HTTP call so the
// provider retries.
func (s *PaymentService) HandleNotification(ctx context.Context, rawBody []byte, signature string) (*models.NotificationResult, error) {
	if err := s.verifier.Verify(signature, rawBody); err != nil {
		logger.WithContext(ctx).Warn("Rejected payment notification", "error", err)
		return nil, errs.Wrap(errs.Unauthenticated, err, "invalid webhook signature")
	}

	var p models.PaymentNotificationPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "malformed notification body")
	}
	if err := validateNotification(&p); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx).With(
		"provider_event_id", p.EventID, "event_type", p.EventType,
		"order_id", p.OrderID, "transaction_id", p.TransactionID)

	var fx *notificationEffects
	var err error
	switch p.EventType {
	case models.PaymentSucceeded:
		fx, err = s.inTx(ctx, &p, s.applySucceeded)
	case models.PaymentFailed:
		fx, err = s.inTx(ctx, &p, s.applyFailed)
	case models.RefundSucceeded:
		fx, err = s.inTx(ctx, &p, s.applyRefund)
	default:
		log.Info("Ignoring unsupported payment notification")
		fx = &notificationEffects{result: models.NotificationResult{Outcome: models.OutcomeIgnored, OrderID: p.OrderID}}
	}
	if err != nil {
		metrics.WebhookNotification(p.EventType, "error")
		log.Error("Failed to apply payment notification", "error", err)
		return nil, errs.Wrap(errs.Internal, err, "failed to apply payment notification")
	}

	metrics.WebhookNotification(p.EventType, fx.result.Outcome)
	s.announce(ctx, &p, fx)

	return &fx.result, nil
}

func validateNotification(p *models.PaymentNotificationPayload) error {
	if p.EventType == "" {
		return errs.E(errs.InvalidArgument, "eventType is required")
	}
	if p.OrderID == "" {
		return errs.E(errs.InvalidArgument, "orderId is required")
	}
	if p.EventID == "" && p.TransactionID == "" {
		return errs.E(errs.InvalidArgument, "eventId or transactionId is required")
	}
	if p.EventType == models.PaymentSucceeded && p.TransactionID == "" {
		return errs.E(errs.InvalidArgument, "transactionId is required for %s", p.EventType)
	}
	return nil
}

type applyFunc func(ctx context.Context, p *models.PaymentNotificationPayload, now time.Time) (*notificationEffects, error)

// inTx records the idempotency key and applies the notification in one
// transaction, so a key is stored only together with its effects.
func (s *PaymentService) inTx(ctx context.Context, p *models.PaymentNotificationPayload, apply applyFunc) (*notificationEffects, error) {
	now := s.clock.Now()
	var fx *notificationEffects

	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		fresh, err := s.stores.Payments.MarkProcessed(ctx, p.IdempotencyKey(), p.EventType, p.OrderID, p.TransactionID, now)
		if err != nil {
			return fmt.Errorf("failed to record notification: %w", err)
		}
		if !fresh {
			fx, err = s.replayed(ctx, p, now)
			return err
		}

		fx, err = apply(ctx, p, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fx, nil
}

// replayed handles a notification whose key was seen before. An exact
// repeat is a duplicate; anything else under the same key is an anomaly.
func (s *PaymentService) replayed(ctx context.Context, p *models.PaymentNotificationPayload, now time.Time) (*notificationEffects, error) {
	prev, err := s.stores.Payments.GetProcessed(ctx, p.IdempotencyKey())
	if err != nil {
		return nil, fmt.Errorf("failed to load processed notification: %w", err)
	}
	if prev == nil || prev.Matches(p.EventType, p.OrderID, p.TransactionID) {
		return &notificationEffects{result: models.NotificationResult{Outcome: models.OutcomeDuplicate, OrderID: p.OrderID}}, nil
	}

	order, err := s.loadOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	return s.recordAnomaly(ctx, p, order, models.AnomalyDuplicateMismatch,
		fmt.Sprintf("key %s was applied as %s for order %s transaction %s",
			prev.Key, prev.EventType, prev.OrderID, prev.TransactionID), now)
}

// loadOrder returns nil when the order does not exist.
func (s *PaymentService) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.stores.Orders.GetForUpdate(ctx, orderID)
	if errs.Is(err, errs.NotFound) {
		return nil, nil
	}
	return order, err
}

func (s *PaymentService) applySucceeded(ctx context.Context, p *models.PaymentNotificationPayload, now time.Time) (*notificationEffects, error) {
	order, err := s.loadOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return s.recordAnomaly(ctx, p, nil, models.AnomalyUnknownOrder, "payment for unknown order", now)
	}

	switch {
	case order.Status == models.OrderPaid && order.PaymentReference != nil && *order.PaymentReference == p.TransactionID:
		return &notificationEffects{result: models.NotificationResult{Outcome: models.OutcomeDuplicate, OrderID: order.ID}}, nil
	case order.Status == models.OrderPaid:
		return s.recordAnomaly(ctx, p, order, models.AnomalyDuplicatePayment,
			fmt.Sprintf("order already paid by transaction %s", deref(order.PaymentReference)), now)
	case order.Status != models.OrderPending:
		// the reservation was already released; issuing tickets now could oversell
		return s.recordAnomaly(ctx, p, order, models.AnomalyLatePayment,
			fmt.Sprintf("payment arrived for %s order", order.Status), now)
	}

	if !amountMatches(order, p) {
		return s.recordAnomaly(ctx, p, order, models.AnomalyAmountMismatch,
			fmt.Sprintf("expected %d %s, got %s %s", order.TotalAmount, order.Currency, p.Amount.String(), p.Currency), now)
	}

	ref := p.TransactionID
	if err := s.lifecycle.apply(ctx, order, transition{
		to:         models.OrderPaid,
		paymentRef: &ref,
		action:     models.AuditPaid,
		actor:      gatewayActor,
	}, now); err != nil {
		return nil, err
	}

	tickets := s.issueTickets(order, now)
	if err := s.stores.Tickets.CreateBatch(ctx, tickets); err != nil {
		return nil, fmt.Errorf("failed to issue tickets: %w", err)
	}

	if err := s.stores.Ledger.Append(ctx, &models.LedgerEntry{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Type:      models.LedgerSale,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
		Reference: p.TransactionID,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to append sale entry: %w", err)
	}

	return &notificationEffects{
		result:     models.NotificationResult{Outcome: models.OutcomeProcessed, OrderID: order.ID},
		order:      order,
		transition: models.OrderPaid,
		tickets:    tickets,
	}, nil
}

func (s *PaymentService) applyFailed(ctx context.Context, p *models.PaymentNotificationPayload, now time.Time) (*notificationEffects, error) {
	order, err := s.loadOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.Status != models.OrderPending {
		return &notificationEffects{result: models.NotificationResult{Outcome: models.OutcomeIgnored, OrderID: p.OrderID}}, nil
	}

	if err := s.lifecycle.apply(ctx, order, transition{
		to:     models.OrderCancelled,
		action: models.AuditPaymentFailed,
		actor:  gatewayActor,
	}, now); err != nil {
		return nil, err
	}

	return &notificationEffects{
		result:     models.NotificationResult{Outcome: models.OutcomeProcessed, OrderID: order.ID},
		order:      order,
		transition: models.OrderCancelled,
	}, nil
}

func (s *PaymentService) applyRefund(ctx context.Context, p *models.PaymentNotificationPayload, now time.Time) (*notificationEffects, error) {
	order, err := s.loadOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return s.recordAnomaly(ctx, p, nil, models.AnomalyUnknownOrder, "refund for unknown order", now)
	}
	if order.Status != models.OrderPaid {
		return s.recordAnomaly(ctx, p, order, models.AnomalyRefundWithoutSale,
			fmt.Sprintf("refund for %s order", order.Status), now)
	}

	prev, err := s.stores.Ledger.FindEntry(ctx, order.ID, models.LedgerRefund)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		if prev.Reference == p.TransactionID {
			return &notificationEffects{result: models.NotificationResult{Outcome: models.OutcomeDuplicate, OrderID: order.ID}}, nil
		}
		return s.recordAnomaly(ctx, p, order, models.AnomalyDuplicateMismatch,
			fmt.Sprintf("order already refunded by transaction %s", prev.Reference), now)
	}

	amount, ok := refundAmount(order, p)
	if !ok {
		return s.recordAnomaly(ctx, p, order, models.AnomalyAmountMismatch,
			fmt.Sprintf("refund of %s %s does not fit order total %d %s", p.Amount.String(), p.Currency, order.TotalAmount, order.Currency), now)
	}

	if err := s.stores.Ledger.Append(ctx, &models.LedgerEntry{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Type:      models.LedgerRefund,
		Amount:    amount,
		Currency:  order.Currency,
		Reference: p.TransactionID,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to append refund entry: %w", err)
	}

	if _, err := s.stores.Tickets.UpdateStatusByOrder(ctx, order.ID, models.TicketRefunded); err != nil {
		return nil, fmt.Errorf("failed to refund tickets: %w", err)
	}

	if err := s.stores.Orders.AppendAudit(ctx, models.AuditEntry{
		OrderID:   order.ID,
		Action:    models.AuditRefunded,
		Actor:     gatewayActor,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	return &notificationEffects{
		result: models.NotificationResult{Outcome: models.OutcomeProcessed, OrderID: order.ID},
		order:  order,
	}, nil
}

func (s *PaymentService) recordAnomaly(ctx context.Context, p *models.PaymentNotificationPayload, order *models.Order, kind models.AnomalyKind, details string, now time.Time) (*notificationEffects, error) {
	anomaly := &models.PaymentAnomaly{
		ID:              uuid.New().String(),
		Kind:            kind,
		OrderID:         p.OrderID,
		ProviderEventID: p.EventID,
		TransactionID:   p.TransactionID,
		Details:         details,
		CreatedAt:       now,
	}
	if order != nil {
		anomaly.OrderStatus = order.Status
	}

	if err := s.stores.Payments.RecordAnomaly(ctx, anomaly); err != nil {
		return nil, fmt.Errorf("failed to record anomaly: %w", err)
	}

	return &notificationEffects{
		result:  models.NotificationResult{Outcome: models.OutcomeAnomaly, OrderID: p.OrderID, Anomaly: kind},
		anomaly: anomaly,
	}, nil
}

func (s *PaymentService) issueTickets(order *models.Order, now time.Time) []models.Ticket {
	tickets := make([]models.Ticket, 0, order.Quantity())
	for _, item := range order.Items {
		for i := 0; i < item.Quantity; i++ {
			id := uuid.New().String()
			tickets = append(tickets, models.Ticket{
				ID:           id,
				OrderID:      order.ID,
				EventID:      order.EventID,
				TicketTypeID: item.TicketTypeID,
				OwnerID:      order.BuyerID,
				QRPayload:    s.qr.Payload(order.EventID, id, now),
				Status:       models.TicketActive,
				IssuedAt:     now,
			})
		}
	}
	return tickets
}

// announce logs, counts and publishes the committed effects.
func (s *PaymentService) announce(ctx context.Context, p *models.PaymentNotificationPayload, fx *notificationEffects) {
	log := logger.WithContext(ctx)

	if a := fx.anomaly; a != nil {
		metrics.PaymentAnomaly(string(a.Kind))
		err := errs.E(errs.PaymentIntegrityAnomaly, "%s: %s", a.Kind, a.Details)
		log.Error("Payment integrity anomaly recorded",
			"kind", a.Kind, "order_id", a.OrderID, "provider_event_id", a.ProviderEventID,
			"transaction_id", a.TransactionID, "error", err)
		publish(ctx, s.publisher, models.EventPaymentAnomaly, models.PaymentAnomalyEvent{
			AnomalyID:       a.ID,
			Kind:            a.Kind,
			OrderID:         a.OrderID,
			ProviderEventID: a.ProviderEventID,
			TransactionID:   a.TransactionID,
			Timestamp:       a.CreatedAt,
		})
		return
	}

	order := fx.order
	if order == nil {
		if fx.result.Outcome == models.OutcomeDuplicate {
			log.Info("Duplicate payment notification acknowledged",
				"order_id", p.OrderID, "provider_event_id", p.EventID)
		}
		return
	}

	switch fx.transition {
	case models.OrderPaid:
		metrics.OrderTransition(string(models.OrderPending), string(models.OrderPaid))
		log.Info("Order paid", "order_id", order.ID, "tickets", len(fx.tickets), "transaction_id", p.TransactionID)

		publish(ctx, s.publisher, models.EventOrderPaid, models.OrderPaidEvent{
			OrderID:          order.ID,
			EventID:          order.EventID,
			BuyerID:          order.BuyerID,
			PaymentReference: p.TransactionID,
			Quantity:         order.Quantity(),
			TotalAmount:      order.TotalAmount,
			Currency:         order.Currency,
			Timestamp:        order.UpdatedAt,
		})

		ids := make([]string, len(fx.tickets))
		for i, t := range fx.tickets {
			ids[i] = t.ID
		}
		publish(ctx, s.publisher, models.EventTicketsIssued, models.TicketsIssuedEvent{
			OrderID:   order.ID,
			EventID:   order.EventID,
			OwnerID:   order.BuyerID,
			TicketIDs: ids,
			Contact:   order.Contact.Email,
			Timestamp: order.UpdatedAt,
		})
	case models.OrderCancelled:
		metrics.OrderTransition(string(models.OrderPending), string(models.OrderCancelled))
		log.Info("Order cancelled after failed payment", "order_id", order.ID)

		publish(ctx, s.publisher, models.EventOrderCancelled, models.OrderReleasedEvent{
			OrderID:   order.ID,
			EventID:   order.EventID,
			BuyerID:   order.BuyerID,
			Status:    order.Status,
			Quantity:  order.Quantity(),
			Reason:    "payment failed",
			Timestamp: order.UpdatedAt,
		})
	default:
		log.Info("Order refunded", "order_id", order.ID, "transaction_id", p.TransactionID)
	}
}

// ListAnomalies returns recorded anomalies, newest first.
func (s *PaymentService) ListAnomalies(ctx context.Context, limit int) ([]models.PaymentAnomaly, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	anomalies, err := s.stores.Payments.ListAnomalies(ctx, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to list anomalies")
	}
	return anomalies, nil
}

func amountMatches(order *models.Order, p *models.PaymentNotificationPayload) bool {
	if p.Currency != "" && !strings.EqualFold(p.Currency, order.Currency) {
		return false
	}
	return p.Amount.Equal(decimal.NewFromInt(order.TotalAmount))
}

// refundAmount returns the minor units to refund. A zero amount means the
// whole order. Fractional amounts and amounts outside (0, total] are rejected.
func refundAmount(order *models.Order, p *models.PaymentNotificationPayload) (int64, bool) {
	if p.Currency != "" && !strings.EqualFold(p.Currency, order.Currency) {
		return 0, false
	}
	if p.Amount.IsZero() {
		return order.TotalAmount, true
	}
	if !p.Amount.IsPositive() || !p.Amount.IsInteger() || p.Amount.GreaterThan(decimal.NewFromInt(order.TotalAmount)) {
		return 0, false
	}
	return p.Amount.IntPart(), true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
