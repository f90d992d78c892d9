package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"kassa/internal/database"
	"kassa/internal/middleware"
	"kassa/internal/models"
	"kassa/internal/service"
)

type EventService interface {
	Create(ctx context.Context, req *models.CreateEventRequest) (*models.CreateEventResponse, error)
	UpdateStatus(ctx context.Context, eventID string, status models.EventStatus) error
	List(ctx context.Context, filter models.EventFilter) (models.ListEventsResponse, error)
	Get(ctx context.Context, eventID string) (*models.EventDetailsResponse, error)
	Analytics(ctx context.Context, eventID string) (*models.AnalyticsResponse, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, buyer models.Identity, req *models.CreateOrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, requester models.Identity, orderID string) error
	GetOrder(ctx context.Context, requester models.Identity, orderID string) (*models.OrderResponse, error)
	ListOrders(ctx context.Context, buyer models.Identity, limit int) ([]models.ListOrdersResponseItem, error)
	InitiatePayment(ctx context.Context, requester models.Identity, orderID string) (string, error)
}

type PaymentService interface {
	HandleNotification(ctx context.Context, rawBody []byte, signature string) (*models.NotificationResult, error)
	ListAnomalies(ctx context.Context, limit int) ([]models.PaymentAnomaly, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) database.HealthCheck
}

type Handlers struct {
	events   EventService
	orders   OrderService
	payments PaymentService
	health   HealthChecker
}

func NewHandlers(services *service.Services, health HealthChecker) *Handlers {
	return &Handlers{
		events:   services.Events,
		orders:   services.Orders,
		payments: services.Payments,
		health:   health,
	}
}

// identity returns the caller set by middleware.BasicAuth; routes without
// authentication get an empty identity, which the services reject.
func identity(c *gin.Context) models.Identity {
	id, _ := middleware.IdentityFromContext(c)
	return id
}
