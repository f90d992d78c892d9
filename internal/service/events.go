package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"kassa/internal/clock"
	errs "kassa/internal/errors"
	"kassa/internal/logger"
	"kassa/internal/models"
)

// EventIndex is the optional full-text index of events
type EventIndex interface {
	IndexEvent(ctx context.Context, event *models.Event) error
	Search(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
}

type EventService struct {
	stores Stores
	index  EventIndex
	clock  clock.Clock
}

func NewEventService(stores Stores, index EventIndex, clk clock.Clock) *EventService {
	return &EventService{stores: stores, index: index, clock: clk}
}

// Create stores the event with its ticket types. Every ticket type starts
// with its whole capacity available.
func (s *EventService) Create(ctx context.Context, req *models.CreateEventRequest) (*models.CreateEventResponse, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, errs.E(errs.InvalidArgument, "title is required")
	}
	if len(req.TicketTypes) == 0 {
		return nil, errs.E(errs.InvalidArgument, "at least one ticket type is required")
	}

	now := s.clock.Now()
	event := &models.Event{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Venue:       req.Venue,
		StartsAt:    req.StartsAt,
		Status:      models.EventDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	resp := &models.CreateEventResponse{ID: event.ID}
	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Events.Create(ctx, event); err != nil {
			return errs.Wrap(errs.Internal, err, "failed to create event")
		}

		for _, t := range req.TicketTypes {
			if t.Capacity < 1 || t.Price < 0 || len(t.Currency) != 3 {
				return errs.E(errs.InvalidArgument, "invalid ticket type %q", t.Name)
			}
			tt := &models.TicketType{
				ID:            uuid.New().String(),
				EventID:       event.ID,
				Name:          t.Name,
				Price:         t.Price,
				Currency:      strings.ToUpper(t.Currency),
				CapacityTotal: t.Capacity,
				Available:     t.Capacity,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.stores.TicketTypes.Create(ctx, tt); err != nil {
				return errs.Wrap(errs.Internal, err, "failed to create ticket type")
			}
			resp.TicketTypes = append(resp.TicketTypes, tt.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("Event created", "event_id", event.ID, "ticket_types", len(resp.TicketTypes))
	s.reindex(ctx, event)

	return resp, nil
}

// UpdateStatus moves an event through draft -> on_sale -> closed.
func (s *EventService) UpdateStatus(ctx context.Context, eventID string, status models.EventStatus) error {
	now := s.clock.Now()
	var event *models.Event

	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		event, err = s.stores.Events.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		if !eventStatusAllowed(event.Status, status) {
			return errs.E(errs.FailedPrecondition, "event %s cannot move from %s to %s", eventID, event.Status, status)
		}
		if err := s.stores.Events.UpdateStatus(ctx, eventID, status, now); err != nil {
			return errs.Wrap(errs.Internal, err, "failed to update event status")
		}
		event.Status = status
		event.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithContext(ctx).Info("Event status changed", "event_id", eventID, "status", status)
	s.reindex(ctx, event)
	return nil
}

func eventStatusAllowed(from, to models.EventStatus) bool {
	switch from {
	case models.EventDraft:
		return to == models.EventOnSale || to == models.EventClosed
	case models.EventOnSale:
		return to == models.EventClosed
	}
	return false
}

// reindex keeps the search index in sync; Postgres stays authoritative.
func (s *EventService) reindex(ctx context.Context, event *models.Event) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexEvent(ctx, event); err != nil {
		logger.WithContext(ctx).Warn("Failed to index event", "event_id", event.ID, "error", err)
	}
}

func (s *EventService) List(ctx context.Context, filter models.EventFilter) (models.ListEventsResponse, error) {
	filter.Normalize()

	var events []models.Event
	var err error
	if s.index != nil {
		events, err = s.index.Search(ctx, filter)
		if err != nil {
			logger.WithContext(ctx).Warn("Event search failed, falling back to database", "error", err)
		}
	}
	if s.index == nil || err != nil {
		events, err = s.stores.Events.List(ctx, filter)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "failed to list events")
		}
	}

	result := make(models.ListEventsResponse, len(events))
	for i, e := range events {
		result[i] = models.ListEventsResponseItem{
			ID:       e.ID,
			Title:    e.Title,
			StartsAt: e.StartsAt,
			Status:   e.Status,
		}
	}
	return result, nil
}

func (s *EventService) Get(ctx context.Context, eventID string) (*models.EventDetailsResponse, error) {
	event, err := s.stores.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	types, err := s.stores.TicketTypes.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "failed to list ticket types")
	}

	return &models.EventDetailsResponse{Event: *event, TicketTypes: types}, nil
}

// Analytics combines live capacity counters with the projected sales stats.
func (s *EventService) Analytics(ctx context.Context, eventID string) (*models.AnalyticsResponse, error) {
	details, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	resp := &models.AnalyticsResponse{EventID: eventID}
	for _, tt := range details.TicketTypes {
		resp.Capacity += int64(tt.CapacityTotal)
		resp.Available += int64(tt.Available)
		resp.Reserved += int64(tt.Reserved)
		resp.Sold += int64(tt.Sold)
	}

	if s.stores.Stats != nil {
		stats, err := s.stores.Stats.GetByEvent(ctx, eventID)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "failed to load sales stats")
		}
		if stats != nil {
			resp.OrdersPaid = stats.OrdersPaid
			resp.OrdersCancelled = stats.OrdersCancelled
			resp.OrdersExpired = stats.OrdersExpired
			resp.GrossAmount = stats.GrossAmount
		}
	}

	return resp, nil
}
