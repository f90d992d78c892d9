package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kassa/internal/clock"
	errs "kassa/internal/errors"
	"kassa/internal/external"
	"kassa/internal/models"
)

const testWebhookSecret = "whsec_test"

var (
	testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	alice     = models.Identity{UserID: "buyer-alice", Role: models.RoleBuyer}
	bob       = models.Identity{UserID: "buyer-bob", Role: models.RoleBuyer}
	admin     = models.Identity{UserID: "admin-1", Role: models.RoleAdmin}
)

type testEnv struct {
	db        *memDB
	clock     *clock.Manual
	publisher *recordingPublisher
	gateway   *fakeGateway
	svc       *Services
	signer    *external.WebhookVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		db:        newMemDB(),
		clock:     clock.NewManual(testStart),
		publisher: &recordingPublisher{},
		gateway:   &fakeGateway{},
	}

	cfg := Config{
		Orders: OrderConfig{
			TTL:          30 * time.Minute,
			MaxQuantity:  20,
			MaxRetries:   3,
			RetryBackoff: time.Millisecond,
		},
		Sweep:    SweepConfig{BatchSize: 100},
		QRSecret: "qr-secret",
		Webhook:  external.WebhookConfig{Secret: testWebhookSecret, Tolerance: 5 * time.Minute},
	}
	env.svc = NewServices(cfg, Deps{
		Stores:    env.db.stores(),
		Publisher: env.publisher,
		Gateway:   env.gateway,
		Clock:     env.clock,
	})
	env.signer = external.NewWebhookVerifier(cfg.Webhook, env.clock)

	t.Cleanup(func() {
		require.Empty(t, env.db.inconsistentTypes(), "capacity invariant violated")
	})
	return env
}

type ticketTypeSeed struct {
	name     string
	price    int64
	currency string
	capacity int
}

// seedEvent stores an event and its ticket types directly and returns their ids.
func (e *testEnv) seedEvent(status models.EventStatus, seeds ...ticketTypeSeed) (string, []string) {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()

	eventID := uuid.New().String()
	e.db.events[eventID] = models.Event{
		ID:        eventID,
		Title:     "Concert " + eventID[:8],
		Venue:     "Praia",
		StartsAt:  testStart.Add(30 * 24 * time.Hour),
		Status:    status,
		CreatedAt: testStart,
		UpdatedAt: testStart,
	}

	ids := make([]string, len(seeds))
	for i, s := range seeds {
		id := uuid.New().String()
		e.db.types[id] = models.TicketType{
			ID:            id,
			EventID:       eventID,
			Name:          s.name,
			Price:         s.price,
			Currency:      s.currency,
			CapacityTotal: s.capacity,
			Available:     s.capacity,
			CreatedAt:     testStart,
			UpdatedAt:     testStart,
		}
		ids[i] = id
	}
	return eventID, ids
}

func (e *testEnv) createOrder(t *testing.T, buyer models.Identity, eventID string, items ...models.OrderItemRequest) *models.Order {
	t.Helper()
	order, err := e.svc.Orders.CreateOrder(context.Background(), buyer, &models.CreateOrderRequest{
		EventID: eventID,
		Items:   items,
		Contact: models.BuyerContact{Email: buyer.UserID + "@example.com"},
	})
	require.NoError(t, err)
	return order
}

func item(ticketTypeID string, qty int) models.OrderItemRequest {
	return models.OrderItemRequest{TicketTypeID: ticketTypeID, Quantity: qty}
}

// notify signs and delivers a webhook payload at the current clock time.
func (e *testEnv) notify(t *testing.T, p models.PaymentNotificationPayload) (*models.NotificationResult, error) {
	t.Helper()
	body, sig := e.signed(t, p)
	return e.svc.Payments.HandleNotification(context.Background(), body, sig)
}

// signed encodes and signs a payload. Call it from the test goroutine and
// hand the result to workers.
func (e *testEnv) signed(t *testing.T, p models.PaymentNotificationPayload) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return body, e.signer.Sign(e.clock.Now(), body)
}

func paymentSucceeded(order *models.Order, eventID, txID string) models.PaymentNotificationPayload {
	return models.PaymentNotificationPayload{
		EventID:       eventID,
		EventType:     models.PaymentSucceeded,
		OrderID:       order.ID,
		TransactionID: txID,
		Amount:        decimal.NewFromInt(order.TotalAmount),
		Currency:      order.Currency,
	}
}

func requireKind(t *testing.T, err error, kind errs.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind.String(), errs.KindOf(err).String(), "unexpected error: %v", err)
}

type fakeGateway struct {
	initErr   error
	inits     []external.InitPaymentParams
	cancelled []string
}

func (g *fakeGateway) InitPayment(ctx context.Context, p external.InitPaymentParams) (*external.PaymentInitResponse, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.inits = append(g.inits, p)
	return &external.PaymentInitResponse{
		Success:    true,
		PaymentID:  "pay-" + p.OrderID,
		PaymentURL: "https://pay.example.com/" + p.OrderID,
	}, nil
}

func (g *fakeGateway) CancelPayment(ctx context.Context, paymentID, reason string) error {
	g.cancelled = append(g.cancelled, paymentID)
	return nil
}
