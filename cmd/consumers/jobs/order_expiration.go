package jobs

import (
	"context"
	"log/slog"
	"time"

	"kassa/internal/models"
)

// Sweeper expires lapsed pending orders
type Sweeper interface {
	Sweep(ctx context.Context) (models.SweepResult, error)
}

// Lease keeps a single replica sweeping at a time
type Lease interface {
	Acquire(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) error
}

// OrderExpirationJob периодически освобождает места просроченных заказов
type OrderExpirationJob struct {
	sweeper  Sweeper
	lease    Lease
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
}

func NewOrderExpirationJob(sweeper Sweeper, interval time.Duration) *OrderExpirationJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &OrderExpirationJob{
		sweeper:  sweeper,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// WithLease makes the job skip ticks while another replica holds the lease.
func (j *OrderExpirationJob) WithLease(lease Lease) *OrderExpirationJob {
	j.lease = lease
	return j
}

// Start runs one sweep immediately and then one per interval until ctx is
// done or Stop is called.
func (j *OrderExpirationJob) Start(ctx context.Context) {
	slog.Info("Starting order expiration job", "interval", j.interval)

	j.ticker = time.NewTicker(j.interval)
	go func() {
		defer j.ticker.Stop()

		j.runOnce(ctx)
		for {
			select {
			case <-j.ticker.C:
				j.runOnce(ctx)
			case <-j.done:
				slog.Info("Order expiration job stopped")
				return
			case <-ctx.Done():
				slog.Info("Order expiration job stopped due to context cancellation")
				return
			}
		}
	}()
}

func (j *OrderExpirationJob) Stop() {
	close(j.done)
}

// runOnce reports whether a sweep actually ran.
func (j *OrderExpirationJob) runOnce(ctx context.Context) bool {
	if j.lease != nil {
		token, ok, err := j.lease.Acquire(ctx)
		if err != nil {
			slog.Error("Failed to acquire sweeper lease, skipping tick", "error", err)
			return false
		}
		if !ok {
			slog.Debug("Sweeper lease held by another replica")
			return false
		}
		defer func() {
			if err := j.lease.Release(context.WithoutCancel(ctx), token); err != nil {
				slog.Warn("Failed to release sweeper lease", "error", err)
			}
		}()
	}

	// the sweeper logs its own completion
	if result, err := j.sweeper.Sweep(ctx); err != nil {
		slog.Error("Order expiration sweep aborted", "error", err,
			"expired", result.Expired, "failed", result.Failed)
	}
	return true
}
