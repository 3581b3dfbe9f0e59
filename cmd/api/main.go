package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ivasann/daisy-copilot/internal/api"
	"github.com/ivasann/daisy-copilot/internal/cache"
	"github.com/ivasann/daisy-copilot/internal/chat"
	"github.com/ivasann/daisy-copilot/internal/clock"
	"github.com/ivasann/daisy-copilot/internal/config"
	"github.com/ivasann/daisy-copilot/internal/domain"
	"github.com/ivasann/daisy-copilot/internal/logging"
	"github.com/ivasann/daisy-copilot/internal/outbox"
	"github.com/ivasann/daisy-copilot/internal/persistence/memory"
	"github.com/ivasann/daisy-copilot/internal/persistence/postgres"
	"github.com/ivasann/daisy-copilot/internal/rewards"
	"github.com/ivasann/daisy-copilot/internal/streak"
	httptransport "github.com/ivasann/daisy-copilot/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.Init("daisy-api", cfg.LogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}
	engine := streak.New(streak.WithLocation(loc), streak.WithDailyBonus(cfg.Rewards.StreakDailyBonus))
	clk := clock.System{}

	var (
		store      domain.LedgerStore
		health     func(context.Context) error
		dispatcher *outbox.Dispatcher
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:      cfg.Store.DatabaseURL,
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		repo := postgres.NewRepository(pool)
		store, health = repo, repo.Ping

		if cfg.Outbox.Enabled {
			producer := outbox.NewKafkaProducer(cfg.Kafka.Brokers, logger.With().Str("component", "kafka_producer").Logger())
			defer producer.Close()
			registry := outbox.NewSchemaRegistryClient(cfg.Kafka.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
			go dispatcher.Start(ctx)
			logger.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("outbox dispatcher started")
		}
	default:
		store = memory.NewStore(memory.WithClock(clk))
		logger.Warn().Msg("using in-memory store; state is lost on restart")
	}

	opts := []rewards.Option{
		rewards.WithLogger(logger.With().Str("component", "rewards").Logger()),
		rewards.WithLuckyBonus(cfg.Rewards.LuckyChance, cfg.Rewards.LuckyAmount, nil),
		rewards.WithChatter(chat.NewClient(chat.Config{
			Provider:    cfg.LLM.Provider,
			URL:         cfg.LLM.URL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}), cfg.LLM.Timeout),
	}
	if cfg.Redis.Address != "" {
		client, err := cache.Open(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, balance cache disabled")
		} else {
			defer closeRedis(client, logger)
			opts = append(opts, rewards.WithSnapshotCache(cache.NewRedis(client, cfg.Redis.TTL)))
		}
	}
	service := rewards.NewService(store, engine, clk, opts...)

	handler := api.NewHandler(service,
		api.WithLogger(logger),
		api.WithCORSOrigin(cfg.HTTP.CORSOrigin),
		api.WithHealthCheck(health),
	)
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, handler.Router())

	if err := httptransport.Run(ctx, server, logger); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
	stop()

	if dispatcher != nil {
		dispatcher.Wait()
	}
	logger.Info().Msg("daisy-api stopped")
}

func closeRedis(client *redis.Client, logger zerolog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn().Err(err).Msg("redis close failed")
	}
}
