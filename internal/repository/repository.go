package repository

import (
	"github.com/google/uuid"

	"kassa/internal/database"
)

type Repositories struct {
	Events      *EventRepository
	TicketTypes *TicketTypeRepository
	Orders      *OrderRepository
	Tickets     *TicketRepository
	Ledger      *LedgerRepository
	Payments    *PaymentRepository
	Stats       *StatsRepository
	Users       *UserRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Events:      NewEventRepository(db),
		TicketTypes: NewTicketTypeRepository(db),
		Orders:      NewOrderRepository(db),
		Tickets:     NewTicketRepository(db),
		Ledger:      NewLedgerRepository(db),
		Payments:    NewPaymentRepository(db),
		Stats:       NewStatsRepository(db),
		Users:       NewUserRepository(db),
	}
}

// validID filters ids that Postgres would reject as malformed UUIDs, so a
// bad id reads as "not found" instead of a query error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
