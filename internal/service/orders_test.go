package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassa/internal/database"
	errs "kassa/internal/errors"
	"kassa/internal/models"
)

func TestCreateOrder_ReservesCapacity(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1500, currency: "CVE", capacity: 10},
		ticketTypeSeed{name: "VIP", price: 5000, currency: "CVE", capacity: 2},
	)

	order := env.createOrder(t, alice, eventID, item(types[0], 3), item(types[1], 1))

	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, int64(3*1500+5000), order.TotalAmount)
	assert.Equal(t, "CVE", order.Currency)
	assert.Equal(t, alice.UserID, order.BuyerID)
	assert.Equal(t, testStart.Add(30*time.Minute), order.ExpiresAt)
	assert.Equal(t, 4, order.Quantity())

	standard := env.db.ticketType(types[0])
	assert.Equal(t, 7, standard.Available)
	assert.Equal(t, 3, standard.Reserved)
	vip := env.db.ticketType(types[1])
	assert.Equal(t, 1, vip.Available)
	assert.Equal(t, 1, vip.Reserved)

	stored := env.db.order(order.ID)
	assert.Equal(t, models.OrderPending, stored.Status)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, []string{models.AuditCreated}, env.db.auditActions(order.ID))
	assert.Equal(t, []string{models.EventOrderCreated}, env.publisher.published())
}

func TestCreateOrder_InsufficientCapacity(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 5},
		ticketTypeSeed{name: "VIP", price: 4000, currency: "CVE", capacity: 1},
	)

	_, err := env.svc.Orders.CreateOrder(context.Background(), alice, &models.CreateOrderRequest{
		EventID: eventID,
		Items:   []models.OrderItemRequest{item(types[0], 2), item(types[1], 2)},
	})
	requireKind(t, err, errs.ResourceExhausted)
	assert.Contains(t, errs.Message(err), "not enough tickets")

	// nothing was reserved for the item that did fit
	assert.Equal(t, 5, env.db.ticketType(types[0]).Available)
	assert.Equal(t, 0, env.db.ticketType(types[0]).Reserved)
	assert.Equal(t, 1, env.db.ticketType(types[1]).Available)
	assert.Empty(t, env.db.orders)
	assert.Empty(t, env.publisher.published())
}

func TestCreateOrder_Validation(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 50},
		ticketTypeSeed{name: "Euro", price: 10, currency: "EUR", capacity: 50},
	)
	draftID, draftTypes := env.seedEvent(models.EventDraft,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 5},
	)

	tests := []struct {
		name  string
		buyer models.Identity
		req   *models.CreateOrderRequest
		kind  errs.Kind
	}{
		{"anonymous buyer", models.Identity{}, &models.CreateOrderRequest{EventID: eventID, Items: []models.OrderItemRequest{item(types[0], 1)}}, errs.Unauthenticated},
		{"missing event", alice, &models.CreateOrderRequest{Items: []models.OrderItemRequest{item(types[0], 1)}}, errs.InvalidArgument},
		{"no items", alice, &models.CreateOrderRequest{EventID: eventID}, errs.InvalidArgument},
		{"zero quantity", alice, &models.CreateOrderRequest{EventID: eventID, Items: []models.OrderItemRequest{item(types[0], 0)}}, errs.InvalidArgument},
		{"duplicate ticket type", alice, &models.CreateOrderRequest{EventID: eventID, Items: []models.OrderItemRequest{item(types[0], 1), item(types[0], 2)}}, errs.InvalidArgument},
		{"too many tickets", alice, &models.CreateOrderRequest{EventID: eventID, Items: []models.OrderItemRequest{item(types[0], 21)}}, errs.InvalidArgument},
		{"unknown event", alice, &models.CreateOrderRequest{EventID: "no-such-event", Items: []models.OrderItemRequest{item(types[0], 1)}}, errs.NotFound},
		{"unknown ticket type", alice, &models.CreateOrderRequest{EventID: eventID, Items: []models.OrderItemRequest{item("no-such-type", 1)}}, errs.NotFound},
		{"event not on sale", alice, &models.CreateOrderRequest{EventID: draftID, Items: []models.OrderItemRequest{item(draftTypes[0], 1)}}, errs.FailedPrecondition},
		{"ticket type of another event", alice, &models.CreateOrderRequest{EventID: eventID, Items: []models.OrderItemRequest{item(draftTypes[0], 1)}}, errs.InvalidArgument},
		{"mixed currencies", alice, &models.CreateOrderRequest{EventID: eventID, Items: []models.OrderItemRequest{item(types[0], 1), item(types[1], 1)}}, errs.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Orders.CreateOrder(context.Background(), tt.buyer, tt.req)
			requireKind(t, err, tt.kind)
		})
	}

	assert.Empty(t, env.db.orders)
	for _, id := range append(types, draftTypes...) {
		assert.Zero(t, env.db.ticketType(id).Reserved)
	}
}

// Two buyers race for the last unit: exactly one wins.
func TestCreateOrder_ConcurrentLastUnit(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 1},
	)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, buyer := range []models.Identity{alice, bob} {
		wg.Add(1)
		go func(buyer models.Identity) {
			defer wg.Done()
			_, err := env.svc.Orders.CreateOrder(context.Background(), buyer, &models.CreateOrderRequest{
				EventID: eventID,
				Items:   []models.OrderItemRequest{item(types[0], 1)},
			})
			errCh <- err
		}(buyer)
	}
	wg.Wait()
	close(errCh)

	var succeeded, exhausted int
	for err := range errCh {
		switch {
		case err == nil:
			succeeded++
		case errs.Is(err, errs.ResourceExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, exhausted)

	tt := env.db.ticketType(types[0])
	assert.Equal(t, 0, tt.Available)
	assert.Equal(t, 1, tt.Reserved)
}

func TestCreateOrder_NeverOversells(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 25},
	)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			buyer := models.Identity{UserID: "buyer", Role: models.RoleBuyer}
			order, err := env.svc.Orders.CreateOrder(context.Background(), buyer, &models.CreateOrderRequest{
				EventID: eventID,
				Items:   []models.OrderItemRequest{item(types[0], qty)},
			})
			if err != nil {
				assert.True(t, errs.Is(err, errs.ResourceExhausted), "unexpected error: %v", err)
				return
			}
			mu.Lock()
			reserved += order.Quantity()
			mu.Unlock()
		}(i%3 + 1)
	}
	wg.Wait()

	tt := env.db.ticketType(types[0])
	assert.LessOrEqual(t, reserved, 25)
	assert.Equal(t, reserved, tt.Reserved)
	assert.Equal(t, 25-reserved, tt.Available)
}

func TestCreateOrder_RetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
	)
	env.db.failOn("orders.create", errors.New("connection reset"), 2)

	order := env.createOrder(t, alice, eventID, item(types[0], 2))

	// failed attempts were rolled back, only the successful one counts
	tt := env.db.ticketType(types[0])
	assert.Equal(t, 8, tt.Available)
	assert.Equal(t, 2, tt.Reserved)
	assert.Len(t, env.db.orders, 1)
	assert.Equal(t, models.OrderPending, env.db.order(order.ID).Status)
}

func TestCreateOrder_GivesUpAfterMaxRetries(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
	)
	env.db.failOn("orders.create", errors.New("connection reset"), 4)

	_, err := env.svc.Orders.CreateOrder(context.Background(), alice, &models.CreateOrderRequest{
		EventID: eventID,
		Items:   []models.OrderItemRequest{item(types[0], 2)},
	})
	requireKind(t, err, errs.Internal)

	tt := env.db.ticketType(types[0])
	assert.Equal(t, 10, tt.Available)
	assert.Equal(t, 0, tt.Reserved)
	assert.Empty(t, env.db.orders)
}

func TestCreateOrder_DoesNotRetryPermanentFailures(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Orders = NewOrderService(OrderConfig{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		Retryable:    database.IsRetryable,
	}, env.db.stores(), env.publisher, env.gateway, env.clock)

	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
	)
	env.db.failOn("orders.create", errors.New("value too long for type character varying(255)"), 1)
	env.db.failOn("orders.create", errors.New("connection reset by peer"), 1)

	_, err := env.svc.Orders.CreateOrder(context.Background(), alice, &models.CreateOrderRequest{
		EventID: eventID,
		Items:   []models.OrderItemRequest{item(types[0], 2)},
	})
	requireKind(t, err, errs.Internal)

	// the second injected failure was never reached
	assert.Len(t, env.db.failures["orders.create"], 1)
	assert.Equal(t, 10, env.db.ticketType(types[0]).Available)
}

func TestCancelOrder_RestoresCapacity(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
		ticketTypeSeed{name: "VIP", price: 3000, currency: "CVE", capacity: 4},
	)
	before := []models.TicketType{env.db.ticketType(types[0]), env.db.ticketType(types[1])}

	order := env.createOrder(t, alice, eventID, item(types[0], 4), item(types[1], 2))
	require.NoError(t, env.svc.Orders.CancelOrder(context.Background(), alice, order.ID))

	for i, id := range types {
		after := env.db.ticketType(id)
		assert.Equal(t, before[i].Available, after.Available)
		assert.Equal(t, before[i].Reserved, after.Reserved)
		assert.Equal(t, before[i].Sold, after.Sold)
	}
	assert.Equal(t, models.OrderCancelled, env.db.order(order.ID).Status)
	assert.Equal(t, []string{models.AuditCreated, models.AuditCancelled}, env.db.auditActions(order.ID))
	assert.Equal(t, []string{models.EventOrderCreated, models.EventOrderCancelled}, env.publisher.published())
}

func TestCancelOrder_Permissions(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
	)
	order := env.createOrder(t, alice, eventID, item(types[0], 2))

	err := env.svc.Orders.CancelOrder(context.Background(), bob, order.ID)
	requireKind(t, err, errs.PermissionDenied)
	assert.Equal(t, 2, env.db.ticketType(types[0]).Reserved)

	require.NoError(t, env.svc.Orders.CancelOrder(context.Background(), admin, order.ID))
	assert.Equal(t, 0, env.db.ticketType(types[0]).Reserved)

	err = env.svc.Orders.CancelOrder(context.Background(), alice, "no-such-order")
	requireKind(t, err, errs.NotFound)
}

func TestCancelOrder_OnlyPending(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
	)

	cancelled := env.createOrder(t, alice, eventID, item(types[0], 1))
	require.NoError(t, env.svc.Orders.CancelOrder(context.Background(), alice, cancelled.ID))
	err := env.svc.Orders.CancelOrder(context.Background(), alice, cancelled.ID)
	requireKind(t, err, errs.FailedPrecondition)

	paid := env.createOrder(t, alice, eventID, item(types[0], 2))
	_, err = env.notify(t, paymentSucceeded(paid, "evt-1", "tx-1"))
	require.NoError(t, err)

	err = env.svc.Orders.CancelOrder(context.Background(), alice, paid.ID)
	requireKind(t, err, errs.FailedPrecondition)

	tt := env.db.ticketType(types[0])
	assert.Equal(t, 8, tt.Available)
	assert.Equal(t, 0, tt.Reserved)
	assert.Equal(t, 2, tt.Sold)
}

func TestCancelOrder_VoidsGatewayPayment(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
	)
	order := env.createOrder(t, alice, eventID, item(types[0], 1))

	url, err := env.svc.Orders.InitiatePayment(context.Background(), alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/"+order.ID, url)

	require.NoError(t, env.svc.Orders.CancelOrder(context.Background(), alice, order.ID))
	assert.Equal(t, []string{"pay-" + order.ID}, env.gateway.cancelled)
}

func TestInitiatePayment(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1250, currency: "CVE", capacity: 10},
	)
	order := env.createOrder(t, alice, eventID, item(types[0], 2))

	_, err := env.svc.Orders.InitiatePayment(context.Background(), bob, order.ID)
	requireKind(t, err, errs.PermissionDenied)

	_, err = env.svc.Orders.InitiatePayment(context.Background(), alice, order.ID)
	require.NoError(t, err)
	require.Len(t, env.gateway.inits, 1)
	assert.Equal(t, int64(2500), env.gateway.inits[0].Amount)
	assert.Equal(t, "CVE", env.gateway.inits[0].Currency)
	assert.Equal(t, alice.UserID+"@example.com", env.gateway.inits[0].Email)

	stored := env.db.order(order.ID)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, "pay-"+order.ID, *stored.PaymentID)

	env.clock.Advance(31 * time.Minute)
	_, err = env.svc.Orders.InitiatePayment(context.Background(), alice, order.ID)
	requireKind(t, err, errs.FailedPrecondition)

	env.gateway.initErr = errors.New("gateway down")
	fresh := env.createOrder(t, alice, eventID, item(types[0], 1))
	_, err = env.svc.Orders.InitiatePayment(context.Background(), alice, fresh.ID)
	requireKind(t, err, errs.Internal)
}

func TestGetAndListOrders(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
	)
	first := env.createOrder(t, alice, eventID, item(types[0], 1))
	env.clock.Advance(time.Minute)
	second := env.createOrder(t, alice, eventID, item(types[0], 2))
	env.createOrder(t, bob, eventID, item(types[0], 1))

	resp, err := env.svc.Orders.GetOrder(context.Background(), alice, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, resp.Order.ID)
	assert.Empty(t, resp.Tickets)

	_, err = env.svc.Orders.GetOrder(context.Background(), bob, first.ID)
	requireKind(t, err, errs.PermissionDenied)

	list, err := env.svc.Orders.ListOrders(context.Background(), alice, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
