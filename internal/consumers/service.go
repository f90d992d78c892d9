package consumers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/stan.go"
	"github.com/redis/rueidis"

	"kassa/internal/api"
	"kassa/internal/cache"
	"kassa/internal/clock"
	"kassa/internal/config"
	"kassa/internal/database"
	"kassa/internal/messaging"
	"kassa/internal/repository"
	"kassa/internal/service"
)

const (
	queueGroup = "kassa-consumers"
	leaseKey   = "kassa:sweeper:lease"
)

type ConsumerService struct {
	db         *database.DB
	nats       *messaging.NATSClient
	leaseConn  rueidis.Client
	lease      *cache.Lease
	handlers   *Handlers
	expiration *service.ExpirationService
	subs       []stan.Subscription
}

func NewConsumerService(cfg *config.Config) (*ConsumerService, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		db.Close()
		return nil, err
	}

	repos := repository.NewRepositories(db)
	clk := clock.NewSystem()

	cs := &ConsumerService{
		db:         db,
		nats:       natsClient,
		handlers:   NewHandlers(repos.Stats, clk),
		expiration: service.NewExpirationService(api.ServiceConfig(cfg).Sweep, api.NewStores(db, repos), natsClient, clk),
	}

	// without Valkey every replica sweeps; the guarded transitions keep that safe
	if cfg.Valkey.Enabled() {
		conn, err := cache.NewLeaseClient(cfg.Valkey)
		if err != nil {
			slog.Warn("Sweeper lease unavailable, sweeping without coordination", "error", err)
		} else {
			cs.leaseConn = conn
			cs.lease = cache.NewLease(conn, leaseKey, cfg.Sweep.LeaseTTL)
		}
	}

	return cs, nil
}

// Expiration returns the sweeper driven by the expiration job.
func (cs *ConsumerService) Expiration() *service.ExpirationService {
	return cs.expiration
}

// Lease returns the sweeper lease, nil when Valkey is not configured.
func (cs *ConsumerService) Lease() *cache.Lease {
	return cs.lease
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting NATS consumers...")

	for subject, h := range cs.handlers.Subscriptions() {
		sub, err := cs.nats.SubscribeQueue(subject, queueGroup, Acking(subject, h))
		if err != nil {
			return fmt.Errorf("failed to start consumer for %s: %w", subject, err)
		}
		cs.subs = append(cs.subs, sub)
	}

	slog.Info("All consumers started successfully", "subjects", len(cs.subs))
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	// Close keeps the durable subscriptions registered for the next start
	for _, sub := range cs.subs {
		if err := sub.Close(); err != nil {
			slog.Error("Error closing subscription", "error", err)
		}
	}

	if cs.nats != nil {
		if err := cs.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if cs.leaseConn != nil {
		cs.leaseConn.Close()
	}

	if cs.db != nil {
		if err := cs.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
