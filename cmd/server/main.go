package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/iho/txstream/internal/adapter/http"
	"github.com/iho/txstream/internal/adapter/http/handler"
	"github.com/iho/txstream/internal/adapter/kafka"
	postgresRepo "github.com/iho/txstream/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/txstream/internal/adapter/repository/redis"
	"github.com/iho/txstream/internal/consumer"
	"github.com/iho/txstream/internal/infrastructure/config"
	"github.com/iho/txstream/internal/infrastructure/eventpublisher"
	"github.com/iho/txstream/internal/infrastructure/logger"
	"github.com/iho/txstream/internal/infrastructure/metrics"
	"github.com/iho/txstream/internal/infrastructure/postgres"
	"github.com/iho/txstream/internal/infrastructure/redis"
	"github.com/iho/txstream/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logr := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Error().Err(err).Msg("processor stopped with error")
		os.Exit(1)
	}

	logr.Info().Msg("processor stopped")
}

func run(ctx context.Context, cfg *config.Config, logr zerolog.Logger) error {
	m := metrics.New()

	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, logger.Component(logr, "migrate")); err != nil {
			return err
		}
	}

	// Connect to PostgreSQL
	connectCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseTimeout)
	pool, err := postgres.NewPool(connectCtx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	logr.Info().Msg("connected to postgres")

	// Initialize repositories
	store := postgresRepo.NewStateStore(pool)
	records := postgresRepo.NewIdempotencyRepository(pool)
	idGen := postgresRepo.NewULIDGenerator()

	var ledger usecase.IdempotencyLedger = records
	redisClient := connectRedis(ctx, cfg, logr)
	if redisClient != nil {
		defer redisClient.Close()
		ledger = redisRepo.NewCachedLedger(redisClient, records, m, logger.Component(logr, "idempotency_cache"), cfg.IdempotencyCacheTTL)
	}

	// Kafka adapters
	source := kafka.NewSource(kafka.SourceConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  cfg.KafkaInputTopics,
	})
	defer closeQuietly(logr, "kafka source", source.Close)

	publisher := kafka.NewOutcomePublisher(kafka.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaOutcomeTopic,
	}, logr)
	defer closeQuietly(logr, "outcome publisher", publisher.Close)

	deadLetters := kafka.NewDeadLetterWriter(cfg.KafkaBrokers, cfg.KafkaDeadLetterTopic, idGen)
	defer closeQuietly(logr, "dead-letter writer", deadLetters.Close)

	// Initialize use cases
	processor := usecase.NewProcessor(ledger, store, publisher, m, logr, processorConfig(cfg))
	republisher := usecase.NewRepublishUseCase(sweepRecords(records, ledger), publisher, m, logr, cfg.RepublishGrace, cfg.RepublishBatchSize)
	retention := usecase.NewRetentionUseCase(records, m)

	coordinator := consumer.NewCoordinator(source, processor, deadLetters, m, logger.Component(logr, "coordinator"), coordinatorConfig(cfg))
	sweeper := eventpublisher.NewSweeper(eventpublisher.Config{
		Republisher: republisher,
		Pruner:      retention,
		Logger:      logr,
		Interval:    cfg.RepublishInterval,
		Retention:   cfg.IdempotencyRetention,
	})

	opsLogger := logger.Component(logr, "ops")
	server := &http.Server{
		Addr:              opsAddr(cfg),
		Handler:           httpAdapter.NewRouter(httpAdapter.RouterConfig{HealthHandler: handler.NewHealthHandler(opsLogger, readinessChecks(cfg, pool.Ping, redisClient)...), Logger: opsLogger}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coordinator.Run(gctx)
	})

	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logr.Info().Str("addr", server.Addr).Msg("starting ops server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logr.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// connectRedis returns nil when the cache is disabled or unreachable; the
// processor then reads the ledger from PostgreSQL directly.
func connectRedis(ctx context.Context, cfg *config.Config, logr zerolog.Logger) *goredis.Client {
	if !cfg.RedisEnabled {
		return nil
	}

	client, err := redis.NewClient(ctx, redis.ClientConfig{URL: cfg.RedisURL})
	if err != nil {
		logr.Warn().Err(err).Msg("redis unavailable, idempotency cache disabled")
		return nil
	}

	logr.Info().Msg("connected to redis")
	return client
}

func readinessChecks(cfg *config.Config, pgPing func(context.Context) error, redisClient *goredis.Client) []handler.Check {
	checks := []handler.Check{
		{Name: "postgres", Ping: pgPing},
		{Name: "kafka", Ping: func(ctx context.Context) error { return kafka.Ping(ctx, cfg.KafkaBrokers) }},
	}
	if redisClient != nil {
		checks = append(checks, handler.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}

func processorConfig(cfg *config.Config) usecase.ProcessorConfig {
	return usecase.ProcessorConfig{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		ClockSkew:       cfg.ClockSkew,
	}
}

func coordinatorConfig(cfg *config.Config) consumer.Config {
	return consumer.Config{
		Workers:                   cfg.WorkerCount,
		MaxInFlight:               cfg.MaxInFlight,
		RedeliveryInitialInterval: cfg.RedeliveryInitialInterval,
		RedeliveryMaxInterval:     cfg.RedeliveryMaxInterval,
		CommitTimeout:             cfg.ShutdownTimeout,
	}
}

func opsAddr(cfg *config.Config) string {
	return ":" + cfg.OpsPort
}

// outcomeRecords sends MarkPublished through the idempotency ledger so a
// cached record is dropped once the sweep publishes its outcome.
type outcomeRecords struct {
	usecase.OutcomeRepository
	ledger usecase.IdempotencyLedger
}

func (r outcomeRecords) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	return r.ledger.MarkPublished(ctx, eventID, publishedAt)
}

func sweepRecords(records usecase.OutcomeRepository, ledger usecase.IdempotencyLedger) usecase.OutcomeRepository {
	return outcomeRecords{OutcomeRepository: records, ledger: ledger}
}

func closeQuietly(logr zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logr.Warn().Err(err).Str("resource", name).Msg("close failed")
	}
}
