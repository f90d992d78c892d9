package service

import (
	"context"

	"kassa/internal/clock"
	"kassa/internal/external"
	"kassa/internal/logger"
)

// PaymentGateway registers and voids payments with the provider
type PaymentGateway interface {
	InitPayment(ctx context.Context, p external.InitPaymentParams) (*external.PaymentInitResponse, error)
	CancelPayment(ctx context.Context, paymentID, reason string) error
}

type Config struct {
	Orders   OrderConfig
	Sweep    SweepConfig
	QRSecret string
	Webhook  external.WebhookConfig
}

type Services struct {
	Events     *EventService
	Orders     *OrderService
	Payments   *PaymentService
	Expiration *ExpirationService
	Users      *UserService
}

type Deps struct {
	Stores    Stores
	Users     UserStore
	Identity  IdentityCache
	Index     EventIndex
	Publisher Publisher
	Gateway   PaymentGateway
	Clock     clock.Clock
}

func NewServices(cfg Config, deps Deps) *Services {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}

	return &Services{
		Events:     NewEventService(deps.Stores, deps.Index, deps.Clock),
		Orders:     NewOrderService(cfg.Orders, deps.Stores, deps.Publisher, deps.Gateway, deps.Clock),
		Payments:   NewPaymentService(deps.Stores, external.NewWebhookVerifier(cfg.Webhook, deps.Clock), NewQRSigner(cfg.QRSecret), deps.Publisher, deps.Clock),
		Expiration: NewExpirationService(cfg.Sweep, deps.Stores, deps.Publisher, deps.Clock),
		Users:      NewUserService(deps.Users, deps.Identity),
	}
}

// publish sends a change-stream message after commit. The database is the
// source of truth, so failures are only logged.
func publish(ctx context.Context, pub Publisher, subject string, data any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(subject, data); err != nil {
		logger.WithContext(ctx).Error("Failed to publish event", "subject", subject, "error", err)
	}
}
