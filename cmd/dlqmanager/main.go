package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ivasann/daisy-copilot/internal/config"
	"github.com/ivasann/daisy-copilot/internal/logging"
	"github.com/ivasann/daisy-copilot/internal/outbox"
	"github.com/ivasann/daisy-copilot/internal/persistence/postgres"
	httptransport "github.com/ivasann/daisy-copilot/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.Init("daisy-dlqmanager", cfg.LogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		URL:      cfg.Store.DatabaseURL,
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQ.MaxRetries, cfg.DLQ.BaseDelay)
	scheduler, err := outbox.NewDLQScheduler(ctx, manager, cfg.DLQ.Schedule, cfg.DLQ.BatchSize,
		logger.With().Str("component", "dlqmanager").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid dlq schedule")
	}

	logger.Info().
		Str("schedule", cfg.DLQ.Schedule).
		Int("max_retries", cfg.DLQ.MaxRetries).
		Dur("base_delay", cfg.DLQ.BaseDelay).
		Msg("dlq manager started")
	scheduler.Start()

	if err := httptransport.Run(ctx, httptransport.NewMetricsServer(cfg.Metrics.Address), logger); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
	stop()
	scheduler.Stop()
}
