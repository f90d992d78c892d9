package service

import (
	"context"
	"sort"
	"time"

	errs "kassa/internal/errors"
	"kassa/internal/models"
)

// lifecycle applies order status transitions together with their effect on
// the capacity counters and the audit log.
type lifecycle struct {
	orders OrderStore
	types  TicketTypeStore
}

type transition struct {
	to         models.OrderStatus
	paymentRef *string
	action     string
	actor      string
}

// apply must run inside a transaction, on an order read with GetForUpdate.
func (l lifecycle) apply(ctx context.Context, order *models.Order, t transition, now time.Time) error {
	from := order.Status
	if !from.CanTransitionTo(t.to) {
		return errs.E(errs.FailedPrecondition, "order %s is %s and cannot become %s", order.ID, from, t.to)
	}

	if err := l.orders.TransitionStatus(ctx, order.ID, from, t.to, t.paymentRef, now); err != nil {
		return err
	}

	items := sortedItems(order.Items)
	if _, err := l.types.GetForUpdate(ctx, ticketTypeIDs(items)); err != nil {
		return errs.Wrap(errs.Internal, err, "failed to lock ticket types")
	}

	for _, item := range items {
		var err error
		switch {
		case t.to.ReleasesReservation():
			err = l.types.Release(ctx, item.TicketTypeID, item.Quantity)
		case t.to == models.OrderPaid:
			err = l.types.Commit(ctx, item.TicketTypeID, item.Quantity)
		}
		if err != nil {
			return errs.Wrap(errs.Internal, err, "failed to update capacity of ticket type %s", item.TicketTypeID)
		}
	}

	if err := l.orders.AppendAudit(ctx, models.AuditEntry{
		OrderID:   order.ID,
		Action:    t.action,
		Actor:     t.actor,
		CreatedAt: now,
	}); err != nil {
		return errs.Wrap(errs.Internal, err, "failed to append audit entry")
	}

	order.Status = t.to
	if t.paymentRef != nil {
		order.PaymentReference = t.paymentRef
	}
	order.UpdatedAt = now
	return nil
}

// sortedItems returns a copy ordered by ticket type id. Row locks are always
// taken in this order.
func sortedItems(items []models.OrderItem) []models.OrderItem {
	sorted := make([]models.OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TicketTypeID < sorted[j].TicketTypeID
	})
	return sorted
}

func ticketTypeIDs(items []models.OrderItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.TicketTypeID
	}
	return ids
}
