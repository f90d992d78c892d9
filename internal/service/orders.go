package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kassa/internal/clock"
	errs "kassa/internal/errors"
	"kassa/internal/external"
	"kassa/internal/logger"
	"kassa/internal/metrics"
	"kassa/internal/models"
)

type OrderConfig struct {
	TTL          time.Duration
	MaxQuantity  int
	MaxRetries   int
	RetryBackoff time.Duration
	// Retryable narrows which internal failures are re-run. Nil retries all of them.
	Retryable func(error) bool
}

// OrderService creates and cancels reservations
type OrderService struct {
	cfg       OrderConfig
	stores    Stores
	lifecycle lifecycle
	publisher Publisher
	gateway   PaymentGateway
	clock     clock.Clock
}

func NewOrderService(cfg OrderConfig, stores Stores, publisher Publisher, gateway PaymentGateway, clk clock.Clock) *OrderService {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 20
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}

	return &OrderService{
		cfg:       cfg,
		stores:    stores,
		lifecycle: lifecycle{orders: stores.Orders, types: stores.TicketTypes},
		publisher: publisher,
		gateway:   gateway,
		clock:     clk,
	}
}

func (s *OrderService) retryable(err error) bool {
	if errs.KindOf(err) != errs.Internal {
		return false
	}
	return s.cfg.Retryable == nil || s.cfg.Retryable(err)
}

// CreateOrder reserves capacity for every item and creates a pending order.
// Either every counter moves and the order exists, or nothing changes.
func (s *OrderService) CreateOrder(ctx context.Context, buyer models.Identity, req *models.CreateOrderRequest) (*models.Order, error) {
	if buyer.UserID == "" {
		return nil, errs.E(errs.Unauthenticated, "buyer identity is required")
	}

	items, err := s.validateItems(req)
	if err != nil {
		metrics.OrderCreated(errs.KindOf(err).String())
		return nil, err
	}

	var order *models.Order
	for attempt := 0; ; attempt++ {
		order, err = s.tryCreateOrder(ctx, buyer.UserID, req, items)
		if err == nil || !s.retryable(err) || attempt >= s.cfg.MaxRetries {
			break
		}

		logger.WithContext(ctx).Warn("Order creation failed, retrying",
			"event_id", req.EventID, "attempt", attempt+1, "error", err)

		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Internal, ctx.Err(), "order creation cancelled")
		case <-time.After(time.Duration(attempt+1) * s.cfg.RetryBackoff):
		}
	}

	if err != nil {
		metrics.OrderCreated(errs.KindOf(err).String())
		if errs.Is(err, errs.Internal) {
			logger.WithContext(ctx).Error("Failed to create order", "event_id", req.EventID, "error", err)
		}
		return nil, err
	}

	metrics.OrderCreated("ok")
	logger.WithContext(ctx).Info("Order created",
		"order_id", order.ID, "event_id", order.EventID, "quantity", order.Quantity(), "total", order.TotalAmount)

	publish(ctx, s.publisher, models.EventOrderCreated, models.OrderCreatedEvent{
		OrderID:     order.ID,
		EventID:     order.EventID,
		BuyerID:     order.BuyerID,
		Quantity:    order.Quantity(),
		TotalAmount: order.TotalAmount,
		ExpiresAt:   order.ExpiresAt,
		Timestamp:   order.CreatedAt,
	})

	return order, nil
}

func (s *OrderService) validateItems(req *models.CreateOrderRequest) ([]models.OrderItem, error) {
	if req == nil || req.EventID == "" {
		return nil, errs.E(errs.InvalidArgument, "event_id is required")
	}
	if len(req.Items) == 0 {
		return nil, errs.E(errs.InvalidArgument, "at least one item is required")
	}

	seen := make(map[string]bool, len(req.Items))
	items := make([]models.OrderItem, 0, len(req.Items))
	total := 0
	for _, it := range req.Items {
		if it.TicketTypeID == "" {
			return nil, errs.E(errs.InvalidArgument, "ticket_type_id is required")
		}
		if it.Quantity < 1 {
			return nil, errs.E(errs.InvalidArgument, "quantity of ticket type %s must be positive", it.TicketTypeID)
		}
		if seen[it.TicketTypeID] {
			return nil, errs.E(errs.InvalidArgument, "ticket type %s is listed more than once", it.TicketTypeID)
		}
		seen[it.TicketTypeID] = true
		total += it.Quantity
		items = append(items, models.OrderItem{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity})
	}

	if total > s.cfg.MaxQuantity {
		return nil, errs.E(errs.InvalidArgument, "at most %d tickets per order", s.cfg.MaxQuantity)
	}

	return sortedItems(items), nil
}

func (s *OrderService) tryCreateOrder(ctx context.Context, buyerID string, req *models.CreateOrderRequest, items []models.OrderItem) (*models.Order, error) {
	now := s.clock.Now()
	var order *models.Order

	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		event, err := s.stores.Events.GetByID(ctx, req.EventID)
		if err != nil {
			return err
		}
		if !event.Sellable() {
			return errs.E(errs.FailedPrecondition, "event %s is not on sale", event.ID)
		}

		types, err := s.stores.TicketTypes.GetForUpdate(ctx, ticketTypeIDs(items))
		if err != nil {
			return errs.Wrap(errs.Internal, err, "failed to lock ticket types")
		}

		// check every item before touching any counter so the error names
		// the first offending ticket type
		lines := make([]models.OrderItem, len(items))
		var total int64
		currency := ""
		for i, item := range items {
			tt, ok := types[item.TicketTypeID]
			if !ok {
				return errs.E(errs.NotFound, "ticket type %s not found", item.TicketTypeID)
			}
			if tt.EventID != event.ID {
				return errs.E(errs.InvalidArgument, "ticket type %s does not belong to event %s", tt.ID, event.ID)
			}
			if tt.Available < item.Quantity {
				return errs.E(errs.ResourceExhausted, "not enough tickets of type %q: requested %d, available %d",
					tt.Name, item.Quantity, tt.Available)
			}
			if currency == "" {
				currency = tt.Currency
			} else if currency != tt.Currency {
				return errs.E(errs.InvalidArgument, "all items of an order must share one currency")
			}

			lines[i] = models.OrderItem{
				TicketTypeID: tt.ID,
				UnitPrice:    tt.Price,
				Currency:     tt.Currency,
				Quantity:     item.Quantity,
			}
			total += lines[i].Subtotal()
		}

		for _, line := range lines {
			if err := s.stores.TicketTypes.Reserve(ctx, line.TicketTypeID, line.Quantity); err != nil {
				return err
			}
		}

		order = &models.Order{
			ID:          uuid.New().String(),
			EventID:     event.ID,
			BuyerID:     buyerID,
			Items:       lines,
			TotalAmount: total,
			Currency:    currency,
			Status:      models.OrderPending,
			ExpiresAt:   now.Add(s.cfg.TTL),
			Contact:     req.Contact,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.stores.Orders.Create(ctx, order); err != nil {
			return errs.Wrap(errs.Internal, err, "failed to create order")
		}

		return s.stores.Orders.AppendAudit(ctx, models.AuditEntry{
			OrderID:   order.ID,
			Action:    models.AuditCreated,
			Actor:     buyerID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// CancelOrder releases the reservation of a pending order.
func (s *OrderService) CancelOrder(ctx context.Context, requester models.Identity, orderID string) error {
	now := s.clock.Now()
	var order *models.Order

	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.stores.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !requester.CanAccess(order) {
			return errs.E(errs.PermissionDenied, "order %s belongs to another buyer", orderID)
		}
		if order.Status != models.OrderPending {
			return errs.E(errs.FailedPrecondition, "order %s is %s, only pending orders can be cancelled", orderID, order.Status)
		}

		return s.lifecycle.apply(ctx, order, transition{
			to:     models.OrderCancelled,
			action: models.AuditCancelled,
			actor:  requester.UserID,
		}, now)
	})
	if err != nil {
		return err
	}

	metrics.OrderTransition(string(models.OrderPending), string(models.OrderCancelled))
	logger.WithContext(ctx).Info("Order cancelled", "order_id", order.ID)

	publish(ctx, s.publisher, models.EventOrderCancelled, models.OrderReleasedEvent{
		OrderID:   order.ID,
		EventID:   order.EventID,
		BuyerID:   order.BuyerID,
		Status:    order.Status,
		Quantity:  order.Quantity(),
		Reason:    "cancelled by " + requester.UserID,
		Timestamp: now,
	})

	if order.PaymentID != nil && s.gateway != nil {
		if err := s.gateway.CancelPayment(ctx, *order.PaymentID, "order cancelled"); err != nil {
			logger.WithContext(ctx).Warn("Failed to cancel gateway payment",
				"order_id", order.ID, "payment_id", *order.PaymentID, "error", err)
		}
	}

	return nil
}

// GetOrder returns the order with its issued tickets.
func (s *OrderService) GetOrder(ctx context.Context, requester models.Identity, orderID string) (*models.OrderResponse, error) {
	order, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.CanAccess(order) {
		return nil, errs.E(errs.PermissionDenied, "order %s belongs to another buyer", orderID)
	}

	tickets, err := s.stores.Tickets.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to list tickets")
	}

	return &models.OrderResponse{Order: *order, Tickets: tickets}, nil
}

func (s *OrderService) ListOrders(ctx context.Context, buyer models.Identity, limit int) ([]models.ListOrdersResponseItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	orders, err := s.stores.Orders.ListByBuyer(ctx, buyer.UserID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to list orders")
	}

	items := make([]models.ListOrdersResponseItem, len(orders))
	for i, o := range orders {
		items[i] = models.ListOrdersResponseItem{
			ID:          o.ID,
			EventID:     o.EventID,
			Status:      o.Status,
			TotalAmount: o.TotalAmount,
			Currency:    o.Currency,
			ExpiresAt:   o.ExpiresAt,
		}
	}
	return items, nil
}

// InitiatePayment registers the order with the payment gateway and returns
// the URL the buyer is redirected to.
func (s *OrderService) InitiatePayment(ctx context.Context, requester models.Identity, orderID string) (string, error) {
	if s.gateway == nil {
		return "", errs.E(errs.FailedPrecondition, "payment gateway is not configured")
	}

	order, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !requester.CanAccess(order) {
		return "", errs.E(errs.PermissionDenied, "order %s belongs to another buyer", orderID)
	}
	now := s.clock.Now()
	if order.Status != models.OrderPending || !order.ExpiresAt.After(now) {
		return "", errs.E(errs.FailedPrecondition, "order %s is not awaiting payment", orderID)
	}

	resp, err := s.gateway.InitPayment(ctx, external.InitPaymentParams{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: "Order " + order.ID,
		Email:       order.Contact.Email,
	})
	if err != nil {
		return "", errs.Wrap(errs.Internal, err, "failed to initiate payment")
	}

	if err := s.stores.Orders.SetPaymentID(ctx, order.ID, resp.PaymentID, now); err != nil {
		return "", errs.Wrap(errs.Internal, err, "failed to store payment id")
	}

	logger.WithContext(ctx).Info("Payment initiated", "order_id", order.ID, "payment_id", resp.PaymentID)
	return resp.PaymentURL, nil
}
