package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"kassa/internal/api"
	"kassa/internal/clock"
	"kassa/internal/config"
	"kassa/internal/database"
	"kassa/internal/logger"
	"kassa/internal/models"
	"kassa/internal/repository"
	"kassa/internal/service"
)

var (
	adminEmail    = pflag.String("admin-email", "admin@kassa.local", "email of the seeded admin")
	buyerEmail    = pflag.String("buyer-email", "buyer@kassa.local", "email of the seeded buyer")
	password      = pflag.String("password", "kassa", "password of both seeded users")
	withEvent     = pflag.Bool("event", true, "create a demo event that is on sale")
	eventCapacity = pflag.Int("capacity", 100, "capacity of each demo ticket type")
)

func main() {
	pflag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	ctx := context.Background()
	repos := repository.NewRepositories(db)

	if err := seedUsers(ctx, repos.Users); err != nil {
		log.Error("Failed to seed users", "error", err)
		os.Exit(1)
	}

	if *withEvent {
		events := service.NewEventService(api.NewStores(db, repos), nil, clock.NewSystem())
		id, err := seedEvent(ctx, events)
		if err != nil {
			log.Error("Failed to seed event", "error", err)
			os.Exit(1)
		}
		log.Info("Seeded demo event", "event_id", id)
	}

	log.Info("Seeding completed successfully")
}

func seedUsers(ctx context.Context, users *repository.UserRepository) error {
	seed := []models.User{
		{Email: *adminEmail, FirstName: "Admin", Surname: "Kassa", Role: models.RoleAdmin},
		{Email: *buyerEmail, FirstName: "Demo", Surname: "Buyer", Role: models.RoleBuyer},
	}

	for i := range seed {
		u := &seed[i]
		u.PasswordHash = service.HashPassword(*password)
		u.IsActive = true
		if err := users.Upsert(ctx, u); err != nil {
			return fmt.Errorf("user %s: %w", u.Email, err)
		}
		logger.Get().Info("Seeded user", "email", u.Email, "role", u.Role, "user_id", u.UserID)
	}
	return nil
}

func seedEvent(ctx context.Context, events *service.EventService) (string, error) {
	description := "Demo concert seeded for local development"
	resp, err := events.Create(ctx, &models.CreateEventRequest{
		Title:       "Kassa Demo Night",
		Description: &description,
		Venue:       "Main Hall",
		StartsAt:    time.Now().Add(30 * 24 * time.Hour).Truncate(time.Hour),
		TicketTypes: []models.CreateTicketTypeRequest{
			{Name: "Standard", Price: 2500, Currency: "KZT", Capacity: *eventCapacity},
			{Name: "VIP", Price: 10000, Currency: "KZT", Capacity: max(1, *eventCapacity/5)},
		},
	})
	if err != nil {
		return "", err
	}

	if err := events.UpdateStatus(ctx, resp.ID, models.EventOnSale); err != nil {
		return "", err
	}
	return resp.ID, nil
}
