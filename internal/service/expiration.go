package service

import (
	"context"
	"time"

	"kassa/internal/clock"
	errs "kassa/internal/errors"
	"kassa/internal/logger"
	"kassa/internal/metrics"
	"kassa/internal/models"
)

const reclaimerActor = "system:reclaimer"

type SweepConfig struct {
	BatchSize int
}

// ExpirationService returns the capacity of lapsed pending orders
type ExpirationService struct {
	cfg       SweepConfig
	stores    Stores
	lifecycle lifecycle
	publisher Publisher
	clock     clock.Clock
}

func NewExpirationService(cfg SweepConfig, stores Stores, publisher Publisher, clk clock.Clock) *ExpirationService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &ExpirationService{
		cfg:       cfg,
		stores:    stores,
		lifecycle: lifecycle{orders: stores.Orders, types: stores.TicketTypes},
		publisher: publisher,
		clock:     clk,
	}
}

// Sweep expires every pending order whose expiresAt is not after now. Each
// order is handled in its own transaction; a failing order is logged and
// left for the next sweep.
func (s *ExpirationService) Sweep(ctx context.Context) (models.SweepResult, error) {
	start := time.Now()
	now := s.clock.Now()
	var result models.SweepResult

	for {
		ids, err := s.stores.Orders.ListExpired(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return result, errs.Wrap(errs.Internal, err, "failed to list expired orders")
		}

		progress := 0
		for _, id := range ids {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			result.Scanned++
			expired, err := s.expireOrder(ctx, id, now)
			switch {
			case err != nil:
				result.Failed++
				logger.WithContext(ctx).Error("Failed to expire order", "order_id", id, "error", err)
			case expired:
				result.Expired++
				progress++
			default:
				result.Skipped++
			}
		}

		// a full page with no progress means the rest keeps failing;
		// leave it for the next sweep
		if len(ids) < s.cfg.BatchSize || progress == 0 {
			break
		}
	}

	metrics.SweepCompleted(time.Since(start), result.Expired, result.Skipped, result.Failed)
	if result.Scanned > 0 {
		logger.WithContext(ctx).Info("Expiration sweep completed",
			"scanned", result.Scanned, "expired", result.Expired,
			"skipped", result.Skipped, "failed", result.Failed,
			"duration_ms", time.Since(start).Milliseconds())
	}

	return result, nil
}

// expireOrder re-checks the order under lock. false means another
// transition won the race and there was nothing to do.
func (s *ExpirationService) expireOrder(ctx context.Context, orderID string, now time.Time) (bool, error) {
	var order *models.Order
	expired := false

	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.stores.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderPending || order.ExpiresAt.After(now) {
			return nil
		}

		if err := s.lifecycle.apply(ctx, order, transition{
			to:     models.OrderExpired,
			action: models.AuditExpired,
			actor:  reclaimerActor,
		}, now); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	metrics.OrderTransition(string(models.OrderPending), string(models.OrderExpired))
	logger.WithContext(ctx).Info("Order expired", "order_id", order.ID, "event_id", order.EventID)

	publish(ctx, s.publisher, models.EventOrderExpired, models.OrderReleasedEvent{
		OrderID:   order.ID,
		EventID:   order.EventID,
		BuyerID:   order.BuyerID,
		Status:    order.Status,
		Quantity:  order.Quantity(),
		Reason:    "reservation expired",
		Timestamp: now,
	})

	return true, nil
}
