package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"kassa/internal/api"
	"kassa/internal/clock"
	"kassa/internal/config"
	"kassa/internal/database"
	"kassa/internal/logger"
	"kassa/internal/repository"
	"kassa/internal/service"
)

// reclaim runs a single expiration sweep and prints its result. It is meant
// for cron or for draining a backlog by hand.
func main() {
	cfg := config.Load()

	flags := pflag.NewFlagSet("reclaim", pflag.ExitOnError)
	batchSize := flags.Int("batch-size", cfg.Sweep.BatchSize, "orders expired per page")
	logLevel := flags.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	logger.Init(*logLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	svcCfg := api.ServiceConfig(cfg)
	svcCfg.Sweep.BatchSize = *batchSize

	// no broker: the change stream is not published from one-shot runs
	sweeper := service.NewExpirationService(svcCfg.Sweep, api.NewStores(db, repository.NewRepositories(db)), nil, clock.NewSystem())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := sweeper.Sweep(ctx)
	out, _ := json.Marshal(result)
	fmt.Println(string(out))
	if err != nil {
		logger.Get().Error("Sweep aborted", "error", err)
		db.Close()
		os.Exit(1)
	}
}
