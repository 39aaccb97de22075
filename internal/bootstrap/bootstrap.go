/**
 * @description
 * Shared process wiring for the crypto-ledger-service binaries. Both the HTTP service
 * and the ledgerctl operator CLI build their logger, database pool, event bus,
 * ledger client and application services here so they stay configured identically.
 *
 * @notes
 * - RabbitMQ and Redis are optional: when they are unreachable the service falls back
 *   to a logging publisher and the in-memory backoff store instead of refusing to boot.
 * - PostgreSQL is mandatory.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: connection pooling.
 * - github.com/redis/go-redis/v9: optional reconciliation state persistence.
 * - go.uber.org/zap: structured logging.
 */

package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/address"
	"github.com/transfa/crypto-ledger-service/internal/app"
	"github.com/transfa/crypto-ledger-service/internal/config"
	"github.com/transfa/crypto-ledger-service/internal/store"
	"github.com/transfa/crypto-ledger-service/pkg/ledgerclient"
	rmrabbit "github.com/transfa/crypto-ledger-service/pkg/rabbitmq"
)

const stateStoreTTL = 7 * 24 * time.Hour

// NewLogger returns a JSON production logger or a console development logger.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// LogConfigWarnings reports values that were coerced while loading configuration.
func LogConfigWarnings(logger *zap.Logger, cfg config.Config) {
	for _, warning := range cfg.Warnings {
		logger.Warn("configuration value coerced", zap.String("component", "config"), zap.String("detail", warning))
	}
}

// OpenDatabase runs migrations when enabled and returns a pool tuned like the
// other transfa services.
func OpenDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied", zap.String("component", "bootstrap"))
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("database connected", zap.String("component", "bootstrap"))
	return pool, nil
}

// ConnectEventBus dials RabbitMQ, falling back to a logging no-op publisher.
func ConnectEventBus(cfg config.Config, logger *zap.Logger) rmrabbit.Publisher {
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventExchange, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback",
			zap.String("component", "bootstrap"),
			zap.Error(err),
		)
		return &rmrabbit.EventProducerFallback{Logger: logger}
	}
	logger.Info("rabbitmq producer connected",
		zap.String("component", "bootstrap"),
		zap.String("exchange", cfg.EventExchange),
	)
	return producer
}

// ConnectStateStore returns a Redis-backed backoff store when REDIS_URL is usable,
// otherwise the in-memory store. The returned func releases the connection.
func ConnectStateStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.StateStore, func()) {
	if cfg.RedisURL == "" {
		logger.Info("redis url not set; reconciliation backoff state kept in memory", zap.String("component", "bootstrap"))
		return app.NewMemoryStateStore(), func() {}
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; reconciliation backoff state kept in memory",
			zap.String("component", "bootstrap"),
			zap.Error(err),
		)
		return app.NewMemoryStateStore(), func() {}
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; reconciliation backoff state kept in memory",
			zap.String("component", "bootstrap"),
			zap.Error(err),
		)
		_ = client.Close()
		return app.NewMemoryStateStore(), func() {}
	}

	logger.Info("redis connected", zap.String("component", "bootstrap"))
	return app.NewRedisStateStore(client, cfg.ReconcileStatePrefix, stateStoreTTL), func() { _ = client.Close() }
}

// NewLedgerClient builds the ledger API client with the configured pacing.
func NewLedgerClient(cfg config.Config, logger *zap.Logger) *ledgerclient.Client {
	client := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.LedgerAPIKey, cfg.LedgerTimeout, logger)
	if cfg.LedgerRateLimitPerSecond > 0 {
		burst := int(cfg.LedgerRateLimitPerSecond)
		if burst < 1 {
			burst = 1
		}
		client.SetRateLimit(cfg.LedgerRateLimitPerSecond, burst)
	}
	if cfg.LedgerAPIBaseURL == "" {
		logger.Warn("ledger api base url not set; broadcasts and probes will fail",
			zap.String("component", "bootstrap"),
			zap.Bool("simulation_mode", cfg.LedgerSimulationMode),
		)
	}
	return client
}

// Services is the assembled application layer.
type Services struct {
	Repository store.Repository
	Ledger     *ledgerclient.Client
	Events     rmrabbit.Publisher
	Metrics    *app.Metrics
	Submitter  *app.Submitter
	Scheduler  *app.Scheduler
	Repairer   *app.Repairer
}

// NewServices wires the submitter, scheduler and repairer over shared dependencies.
// reg may be nil when metrics are not exported.
func NewServices(cfg config.Config, pool *pgxpool.Pool, events rmrabbit.Publisher, state app.StateStore, reg prometheus.Registerer, logger *zap.Logger) (*Services, error) {
	validator, err := address.NewValidator(cfg.BitcoinNetwork)
	if err != nil {
		return nil, err
	}

	repository := store.NewPostgresRepository(pool)
	ledger := NewLedgerClient(cfg, logger)

	var metrics *app.Metrics
	if reg != nil {
		metrics = app.NewMetrics(reg)
	}

	submitter := app.NewSubmitter(repository, ledger, events, validator, logger)
	submitter.SetSimulationMode(cfg.LedgerSimulationMode)
	submitter.SetMetrics(metrics)

	scheduler := app.NewScheduler(repository, ledger, events, logger, app.SchedulerConfig{
		TickInterval: cfg.ReconcileTickInterval,
		MaxRetries:   cfg.ReconcileMaxRetries,
	})
	scheduler.SetStateStore(state)
	scheduler.SetReporter(app.NewLogReporter(logger))
	scheduler.SetMetrics(metrics)

	return &Services{
		Repository: repository,
		Ledger:     ledger,
		Events:     events,
		Metrics:    metrics,
		Submitter:  submitter,
		Scheduler:  scheduler,
		Repairer:   app.NewRepairer(repository, ledger, events, logger),
	}, nil
}
