package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/optionbot/internal/blob/s3"
	"github.com/alanyoungcy/optionbot/internal/cache/redis"
	"github.com/alanyoungcy/optionbot/internal/config"
	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/marketdata"
	"github.com/alanyoungcy/optionbot/internal/notify"
	"github.com/alanyoungcy/optionbot/internal/render"
	"github.com/alanyoungcy/optionbot/internal/server/handler"
	"github.com/alanyoungcy/optionbot/internal/service"
	"github.com/alanyoungcy/optionbot/internal/store/memory"
	"github.com/alanyoungcy/optionbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when their backend is
// disabled.
type Dependencies struct {
	// Ledger
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Market data
	Quotes *marketdata.Client

	// Redis-backed
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Events      domain.EventSink

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	BlobLister domain.BlobLister
	Archiver   *s3blob.Archiver

	Renderer domain.Renderer
	Notifier *notify.Notifier

	Registry *prometheus.Registry
	Metrics  *service.Metrics

	// Checks are the dependency probes reported by /api/health.
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Checker{}}

	// --- Ledger ---
	switch cfg.Database.Driver {
	case "memory":
		logger.WarnContext(ctx, "using in-memory ledger; positions are lost on exit")
		deps.PositionStore = memory.NewPositionStore()
		deps.AuditStore = memory.NewAuditStore()
	default:
		pgClient, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Market data ---
	deps.Quotes = marketdata.New(marketdata.Config{
		BaseURL:           cfg.MarketData.BaseURL,
		Token:             cfg.MarketData.Token,
		RequestsPerSecond: cfg.MarketData.RequestsPerSecond,
		Burst:             cfg.MarketData.Burst,
		HTTPTimeout:       cfg.MarketData.HTTPTimeout.Duration,
		BreakerFailures:   uint32(cfg.MarketData.BreakerFailures),
		BreakerCooldown:   cfg.MarketData.BreakerCooldown.Duration,
	})
	deps.Checks["marketdata"] = deps.Quotes.Health

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.SignalBus = bus
		deps.Events = redis.NewEventPublisher(bus)
		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.BlobLister = reader
		deps.Archiver = s3blob.NewArchiver(writer, deps.PositionStore, deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
	}

	deps.Renderer = render.NewJSONRenderer(cfg.Tracker.Tiers(), cfg.Tracker.ExitRules())

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = service.NewMetrics(deps.Registry)

	return deps, cleanup, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	c, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return c, nil
}

// Migrate applies pending migrations and returns the files applied.
func Migrate(ctx context.Context, cfg *config.Config) ([]string, error) {
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("migrate: driver %q has no schema", cfg.Database.Driver)
	}
	c, err := openPostgres(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	defer c.Close()
	return c.RunMigrations(ctx)
}
