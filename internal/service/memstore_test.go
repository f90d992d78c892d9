package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	errs "kassa/internal/errors"
	"kassa/internal/models"
)

// memDB is an in-memory store with serialized, all-or-nothing transactions.
// A transaction holds the lock for its whole duration and restores a
// snapshot when fn fails.
type memDB struct {
	mu sync.Mutex

	events    map[string]models.Event
	types     map[string]models.TicketType
	orders    map[string]models.Order
	audit     []models.AuditEntry
	tickets   map[string]models.Ticket
	ledger    []models.LedgerEntry
	webhooks  map[string]models.ProcessedNotification
	anomalies []models.PaymentAnomaly
	stats     map[string]models.EventSalesStats

	// failures pops one injected error per call of the named operation
	failures map[string][]error
}

type memTxKey struct{}

func newMemDB() *memDB {
	return &memDB{
		events:   map[string]models.Event{},
		types:    map[string]models.TicketType{},
		orders:   map[string]models.Order{},
		tickets:  map[string]models.Ticket{},
		webhooks: map[string]models.ProcessedNotification{},
		stats:    map[string]models.EventSalesStats{},
		failures: map[string][]error{},
	}
}

func (db *memDB) stores() Stores {
	return Stores{
		Tx:          db,
		Events:      memEvents{db},
		TicketTypes: memTypes{db},
		Orders:      memOrders{db},
		Tickets:     memTickets{db},
		Ledger:      memLedger{db},
		Payments:    memPayments{db},
		Stats:       memStats{db},
	}
}

func (db *memDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	snap := db.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		db.restore(snap)
		return err
	}
	return nil
}

// lock guards calls made outside a transaction.
func (db *memDB) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

// failOn makes the next n calls of op fail with err. Caller must not hold the lock.
func (db *memDB) failOn(op string, err error, n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := 0; i < n; i++ {
		db.failures[op] = append(db.failures[op], err)
	}
}

func (db *memDB) fail(op string) error {
	queue := db.failures[op]
	if len(queue) == 0 {
		return nil
	}
	db.failures[op] = queue[1:]
	return queue[0]
}

type memSnapshot struct {
	events    map[string]models.Event
	types     map[string]models.TicketType
	orders    map[string]models.Order
	audit     []models.AuditEntry
	tickets   map[string]models.Ticket
	ledger    []models.LedgerEntry
	webhooks  map[string]models.ProcessedNotification
	anomalies []models.PaymentAnomaly
	stats     map[string]models.EventSalesStats
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *memDB) snapshot() memSnapshot {
	orders := make(map[string]models.Order, len(db.orders))
	for id, o := range db.orders {
		o.Items = append([]models.OrderItem(nil), o.Items...)
		orders[id] = o
	}
	return memSnapshot{
		events:    copyMap(db.events),
		types:     copyMap(db.types),
		orders:    orders,
		audit:     append([]models.AuditEntry(nil), db.audit...),
		tickets:   copyMap(db.tickets),
		ledger:    append([]models.LedgerEntry(nil), db.ledger...),
		webhooks:  copyMap(db.webhooks),
		anomalies: append([]models.PaymentAnomaly(nil), db.anomalies...),
		stats:     copyMap(db.stats),
	}
}

func (db *memDB) restore(s memSnapshot) {
	db.events = s.events
	db.types = s.types
	db.orders = s.orders
	db.audit = s.audit
	db.tickets = s.tickets
	db.ledger = s.ledger
	db.webhooks = s.webhooks
	db.anomalies = s.anomalies
	db.stats = s.stats
}

// read helpers for assertions

func (db *memDB) ticketType(id string) models.TicketType {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.types[id]
}

func (db *memDB) order(id string) models.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.orders[id]
}

func (db *memDB) orderTickets(orderID string) []models.Ticket {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Ticket
	for _, t := range db.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}

func (db *memDB) ledgerEntries(orderID string, typ models.LedgerEntryType) []models.LedgerEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range db.ledger {
		if e.OrderID == orderID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (db *memDB) auditActions(orderID string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []string
	for _, e := range db.audit {
		if e.OrderID == orderID {
			out = append(out, e.Action)
		}
	}
	return out
}

func (db *memDB) anomalyKinds() []models.AnomalyKind {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.AnomalyKind
	for _, a := range db.anomalies {
		out = append(out, a.Kind)
	}
	return out
}

func (db *memDB) inconsistentTypes() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []string
	for id, tt := range db.types {
		if !tt.Consistent() {
			out = append(out, id)
		}
	}
	return out
}

type memEvents struct{ db *memDB }

func (s memEvents) Create(ctx context.Context, event *models.Event) error {
	defer s.db.lock(ctx)()
	s.db.events[event.ID] = *event
	return nil
}

func (s memEvents) GetByID(ctx context.Context, id string) (*models.Event, error) {
	defer s.db.lock(ctx)()
	if err := s.db.fail("events.get"); err != nil {
		return nil, err
	}
	e, ok := s.db.events[id]
	if !ok {
		return nil, errs.E(errs.NotFound, "event %s not found", id)
	}
	return &e, nil
}

func (s memEvents) List(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	defer s.db.lock(ctx)()
	var out []models.Event
	for _, e := range s.db.events {
		if filter.Query != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(filter.Query)) {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s memEvents) UpdateStatus(ctx context.Context, id string, status models.EventStatus, now time.Time) error {
	defer s.db.lock(ctx)()
	e, ok := s.db.events[id]
	if !ok {
		return errs.E(errs.NotFound, "event %s not found", id)
	}
	e.Status = status
	e.UpdatedAt = now
	s.db.events[id] = e
	return nil
}

type memTypes struct{ db *memDB }

func (s memTypes) Create(ctx context.Context, tt *models.TicketType) error {
	defer s.db.lock(ctx)()
	s.db.types[tt.ID] = *tt
	return nil
}

func (s memTypes) ListByEvent(ctx context.Context, eventID string) ([]models.TicketType, error) {
	defer s.db.lock(ctx)()
	var out []models.TicketType
	for _, tt := range s.db.types {
		if tt.EventID == eventID {
			out = append(out, tt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memTypes) GetForUpdate(ctx context.Context, ids []string) (map[string]*models.TicketType, error) {
	defer s.db.lock(ctx)()
	out := map[string]*models.TicketType{}
	for _, id := range ids {
		if tt, ok := s.db.types[id]; ok {
			out[id] = &tt
		}
	}
	return out, nil
}

func (s memTypes) Reserve(ctx context.Context, id string, qty int) error {
	defer s.db.lock(ctx)()
	tt := s.db.types[id]
	if tt.Available < qty {
		return errs.E(errs.ResourceExhausted, "not enough tickets of type %s", id)
	}
	tt.Available -= qty
	tt.Reserved += qty
	s.db.types[id] = tt
	return nil
}

func (s memTypes) Release(ctx context.Context, id string, qty int) error {
	defer s.db.lock(ctx)()
	if err := s.db.fail("types.release"); err != nil {
		return err
	}
	tt := s.db.types[id]
	if tt.Reserved < qty {
		return errs.E(errs.Internal, "ticket type %s has fewer than %d reserved", id, qty)
	}
	tt.Available += qty
	tt.Reserved -= qty
	s.db.types[id] = tt
	return nil
}

func (s memTypes) Commit(ctx context.Context, id string, qty int) error {
	defer s.db.lock(ctx)()
	tt := s.db.types[id]
	if tt.Reserved < qty {
		return errs.E(errs.Internal, "ticket type %s has fewer than %d reserved", id, qty)
	}
	tt.Reserved -= qty
	tt.Sold += qty
	s.db.types[id] = tt
	return nil
}

type memOrders struct{ db *memDB }

func (s memOrders) Create(ctx context.Context, order *models.Order) error {
	defer s.db.lock(ctx)()
	if err := s.db.fail("orders.create"); err != nil {
		return err
	}
	o := *order
	o.Items = append([]models.OrderItem(nil), order.Items...)
	s.db.orders[o.ID] = o
	return nil
}

func (s memOrders) get(id string) (*models.Order, error) {
	o, ok := s.db.orders[id]
	if !ok {
		return nil, errs.E(errs.NotFound, "order %s not found", id)
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return &o, nil
}

func (s memOrders) GetByID(ctx context.Context, id string) (*models.Order, error) {
	defer s.db.lock(ctx)()
	return s.get(id)
}

func (s memOrders) GetForUpdate(ctx context.Context, id string) (*models.Order, error) {
	defer s.db.lock(ctx)()
	if err := s.db.fail("orders.getForUpdate:" + id); err != nil {
		return nil, err
	}
	return s.get(id)
}

func (s memOrders) TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus, paymentRef *string, now time.Time) error {
	defer s.db.lock(ctx)()
	o, ok := s.db.orders[id]
	if !ok || o.Status != from {
		return errs.E(errs.FailedPrecondition, "order %s is no longer %s", id, from)
	}
	o.Status = to
	if paymentRef != nil {
		ref := *paymentRef
		o.PaymentReference = &ref
	}
	o.UpdatedAt = now
	s.db.orders[id] = o
	return nil
}

func (s memOrders) SetPaymentID(ctx context.Context, id, paymentID string, now time.Time) error {
	defer s.db.lock(ctx)()
	o := s.db.orders[id]
	o.PaymentID = &paymentID
	o.UpdatedAt = now
	s.db.orders[id] = o
	return nil
}

func (s memOrders) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]models.Order, error) {
	defer s.db.lock(ctx)()
	var out []models.Order
	for _, o := range s.db.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memOrders) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer s.db.lock(ctx)()
	var due []models.Order
	for _, o := range s.db.orders {
		if o.Status == models.OrderPending && !o.ExpiresAt.After(now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ExpiresAt.Equal(due[j].ExpiresAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ExpiresAt.Before(due[j].ExpiresAt)
	})
	ids := make([]string, 0, limit)
	for _, o := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s memOrders) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	defer s.db.lock(ctx)()
	s.db.audit = append(s.db.audit, entry)
	return nil
}

type memTickets struct{ db *memDB }

func (s memTickets) CreateBatch(ctx context.Context, tickets []models.Ticket) error {
	defer s.db.lock(ctx)()
	for _, t := range tickets {
		s.db.tickets[t.ID] = t
	}
	return nil
}

func (s memTickets) ListByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	defer s.db.lock(ctx)()
	var out []models.Ticket
	for _, t := range s.db.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s memTickets) UpdateStatusByOrder(ctx context.Context, orderID string, status models.TicketStatus) (int, error) {
	defer s.db.lock(ctx)()
	n := 0
	for id, t := range s.db.tickets {
		if t.OrderID == orderID && t.Status != status {
			t.Status = status
			s.db.tickets[id] = t
			n++
		}
	}
	return n, nil
}

type memLedger struct{ db *memDB }

func (s memLedger) Append(ctx context.Context, entry *models.LedgerEntry) error {
	defer s.db.lock(ctx)()
	if entry.Type == models.LedgerSale || entry.Type == models.LedgerRefund {
		for _, e := range s.db.ledger {
			if e.OrderID == entry.OrderID && e.Type == entry.Type {
				return errs.E(errs.FailedPrecondition, "order %s already has a %s entry", entry.OrderID, entry.Type)
			}
		}
	}
	s.db.ledger = append(s.db.ledger, *entry)
	return nil
}

func (s memLedger) FindEntry(ctx context.Context, orderID string, entryType models.LedgerEntryType) (*models.LedgerEntry, error) {
	defer s.db.lock(ctx)()
	for _, e := range s.db.ledger {
		if e.OrderID == orderID && e.Type == entryType {
			return &e, nil
		}
	}
	return nil, nil
}

type memPayments struct{ db *memDB }

func (s memPayments) MarkProcessed(ctx context.Context, key, eventType, orderID, transactionID string, now time.Time) (bool, error) {
	defer s.db.lock(ctx)()
	if _, seen := s.db.webhooks[key]; seen {
		return false, nil
	}
	s.db.webhooks[key] = models.ProcessedNotification{
		Key:           key,
		EventType:     eventType,
		OrderID:       orderID,
		TransactionID: transactionID,
		ReceivedAt:    now,
	}
	return true, nil
}

func (s memPayments) GetProcessed(ctx context.Context, key string) (*models.ProcessedNotification, error) {
	defer s.db.lock(ctx)()
	n, ok := s.db.webhooks[key]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (s memPayments) RecordAnomaly(ctx context.Context, anomaly *models.PaymentAnomaly) error {
	defer s.db.lock(ctx)()
	s.db.anomalies = append(s.db.anomalies, *anomaly)
	return nil
}

func (s memPayments) ListAnomalies(ctx context.Context, limit int) ([]models.PaymentAnomaly, error) {
	defer s.db.lock(ctx)()
	out := append([]models.PaymentAnomaly(nil), s.db.anomalies...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memStats struct{ db *memDB }

func (s memStats) GetByEvent(ctx context.Context, eventID string) (*models.EventSalesStats, error) {
	defer s.db.lock(ctx)()
	st, ok := s.db.stats[eventID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// recordingPublisher keeps published subjects in order
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return p.err
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}
