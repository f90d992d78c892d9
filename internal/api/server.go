package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kassa/internal/cache"
	"kassa/internal/clock"
	"kassa/internal/config"
	"kassa/internal/database"
	"kassa/internal/external"
	"kassa/internal/handlers"
	"kassa/internal/messaging"
	"kassa/internal/middleware"
	"kassa/internal/repository"
	"kassa/internal/search"
	"kassa/internal/service"
)

// Server представляет HTTP сервер API
type Server struct {
	router   *gin.Engine
	config   *config.Config
	db       *database.DB
	nats     *messaging.NATSClient
	valkey   *cache.ValkeyClient
	services *service.Services
}

// NewStores adapts the Postgres repositories to the service store interfaces.
func NewStores(db *database.DB, repos *repository.Repositories) service.Stores {
	return service.Stores{
		Tx:          db,
		Events:      repos.Events,
		TicketTypes: repos.TicketTypes,
		Orders:      repos.Orders,
		Tickets:     repos.Tickets,
		Ledger:      repos.Ledger,
		Payments:    repos.Payments,
		Stats:       repos.Stats,
	}
}

// ServiceConfig maps application config onto service settings.
func ServiceConfig(cfg *config.Config) service.Config {
	return service.Config{
		Orders: service.OrderConfig{
			TTL:         cfg.Orders.TTL,
			MaxQuantity: cfg.Orders.MaxQuantity,
			MaxRetries:  cfg.Orders.MaxRetries,
			Retryable:   database.IsRetryable,
		},
		Sweep:    service.SweepConfig{BatchSize: cfg.Sweep.BatchSize},
		QRSecret: cfg.Tickets.QRSecret,
		Webhook:  cfg.Webhook,
	}
}

// NewServer создает новый экземпляр сервера
func NewServer(cfg *config.Config) (*Server, error) {
	gin.SetMode(cfg.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		db.Close()
		return nil, err
	}

	repos := repository.NewRepositories(db)
	deps := service.Deps{
		Stores:    NewStores(db, repos),
		Users:     repos.Users,
		Publisher: natsClient,
		Gateway:   external.NewPaymentClient(cfg.Payment),
		Clock:     clock.NewSystem(),
	}

	// optional backends are left as nil interfaces when not configured
	var valkeyClient *cache.ValkeyClient
	if cfg.Valkey.Enabled() {
		valkeyClient, err = cache.NewValkeyClient(cfg.Valkey)
		if err != nil {
			slog.Warn("Valkey unavailable, authenticating against the database only", "error", err)
		} else {
			deps.Identity = valkeyClient
		}
	}

	if cfg.Elasticsearch.Enabled() {
		esClient, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			slog.Warn("Elasticsearch unavailable, event search falls back to the database", "error", err)
		} else {
			deps.Index = esClient
		}
	}

	if cfg.Webhook.Secret == "" {
		slog.Warn("PAYMENT_WEBHOOK_SECRET is empty, every payment notification will be rejected")
	}

	services := service.NewServices(ServiceConfig(cfg), deps)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	server := &Server{
		router:   router,
		config:   cfg,
		db:       db,
		nats:     natsClient,
		valkey:   valkeyClient,
		services: services,
	}
	server.setupRoutes()

	return server, nil
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services, s.db)
	h.Register(s.router, middleware.BasicAuth(s.services.Users))

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Run запускает HTTP сервер
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.config.Port)
	return s.router.Run(addr)
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() http.Handler {
	return s.router
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() error {
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if s.valkey != nil {
		if err := s.valkey.Close(); err != nil {
			slog.Error("Error closing Valkey connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
