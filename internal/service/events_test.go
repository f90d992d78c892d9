package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "kassa/internal/errors"
	"kassa/internal/models"
)

type fakeIndex struct {
	indexed   []string
	searchErr error
	hits      []models.Event
}

func (f *fakeIndex) IndexEvent(ctx context.Context, event *models.Event) error {
	f.indexed = append(f.indexed, event.ID+":"+string(event.Status))
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func TestEventService_CreateAndPublish(t *testing.T) {
	env := newTestEnv(t)
	index := &fakeIndex{}
	events := NewEventService(env.db.stores(), index, env.clock)

	resp, err := events.Create(context.Background(), &models.CreateEventRequest{
		Title:    "Morna Night",
		Venue:    "Mindelo",
		StartsAt: testStart.Add(48 * time.Hour),
		TicketTypes: []models.CreateTicketTypeRequest{
			{Name: "Standard", Price: 1000, Currency: "cve", Capacity: 100},
			{Name: "VIP", Price: 5000, Currency: "CVE", Capacity: 10},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.TicketTypes, 2)

	details, err := events.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventDraft, details.Event.Status)
	for _, tt := range details.TicketTypes {
		assert.Equal(t, "CVE", tt.Currency)
		assert.Equal(t, tt.CapacityTotal, tt.Available)
		assert.True(t, tt.Consistent())
	}

	// draft events are not sellable
	_, err = env.svc.Orders.CreateOrder(context.Background(), alice, &models.CreateOrderRequest{
		EventID: resp.ID,
		Items:   []models.OrderItemRequest{item(resp.TicketTypes[0], 1)},
	})
	requireKind(t, err, errs.FailedPrecondition)

	require.NoError(t, events.UpdateStatus(context.Background(), resp.ID, models.EventOnSale))
	env.createOrder(t, alice, resp.ID, item(resp.TicketTypes[0], 1))

	require.NoError(t, events.UpdateStatus(context.Background(), resp.ID, models.EventClosed))
	err = events.UpdateStatus(context.Background(), resp.ID, models.EventOnSale)
	requireKind(t, err, errs.FailedPrecondition)

	assert.Equal(t, []string{
		resp.ID + ":draft",
		resp.ID + ":on_sale",
		resp.ID + ":closed",
	}, index.indexed)
}

func TestEventService_CreateRejectsInvalidTicketType(t *testing.T) {
	env := newTestEnv(t)
	events := NewEventService(env.db.stores(), nil, env.clock)

	_, err := events.Create(context.Background(), &models.CreateEventRequest{
		Title:    "Broken",
		StartsAt: testStart,
		TicketTypes: []models.CreateTicketTypeRequest{
			{Name: "Standard", Price: 1000, Currency: "CVE", Capacity: 10},
			{Name: "Free lunch", Price: 0, Currency: "CVE", Capacity: 0},
		},
	})
	requireKind(t, err, errs.InvalidArgument)
	assert.Empty(t, env.db.events)
	assert.Empty(t, env.db.types)

	_, err = events.Create(context.Background(), &models.CreateEventRequest{StartsAt: testStart})
	requireKind(t, err, errs.InvalidArgument)
}

func TestEventService_ListFallsBackToDatabase(t *testing.T) {
	env := newTestEnv(t)
	env.seedEvent(models.EventOnSale, ticketTypeSeed{name: "Standard", price: 1, currency: "CVE", capacity: 1})
	env.seedEvent(models.EventDraft, ticketTypeSeed{name: "Standard", price: 1, currency: "CVE", capacity: 1})

	index := &fakeIndex{hits: []models.Event{{ID: "from-index", Title: "Indexed"}}}
	events := NewEventService(env.db.stores(), index, env.clock)

	list, err := events.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "from-index", list[0].ID)

	index.searchErr = errors.New("cluster unavailable")
	list, err = events.List(context.Background(), models.EventFilter{Status: models.EventOnSale})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.EventOnSale, list[0].Status)

	list, err = NewEventService(env.db.stores(), nil, env.clock).List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestEventService_Analytics(t *testing.T) {
	env := newTestEnv(t)
	eventID, types := env.seedEvent(models.EventOnSale,
		ticketTypeSeed{name: "Standard", price: 1000, currency: "CVE", capacity: 10},
		ticketTypeSeed{name: "VIP", price: 3000, currency: "CVE", capacity: 5},
	)

	paid := env.createOrder(t, alice, eventID, item(types[0], 2), item(types[1], 1))
	_, err := env.notify(t, paymentSucceeded(paid, "evt-1", "tx-1"))
	require.NoError(t, err)
	env.createOrder(t, bob, eventID, item(types[0], 3))

	env.db.mu.Lock()
	env.db.stats[eventID] = models.EventSalesStats{EventID: eventID, OrdersPaid: 1, GrossAmount: 5000}
	env.db.mu.Unlock()

	resp, err := env.svc.Events.Analytics(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), resp.Capacity)
	assert.Equal(t, int64(3), resp.Sold)
	assert.Equal(t, int64(3), resp.Reserved)
	assert.Equal(t, int64(9), resp.Available)
	assert.Equal(t, int64(1), resp.OrdersPaid)
	assert.Equal(t, int64(5000), resp.GrossAmount)

	_, err = env.svc.Events.Analytics(context.Background(), "no-such-event")
	requireKind(t, err, errs.NotFound)
}
