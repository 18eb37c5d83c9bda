package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/arbscreener/internal/blob/s3"
	"github.com/alanyoungcy/arbscreener/internal/cache/memory"
	"github.com/alanyoungcy/arbscreener/internal/cache/redis"
	"github.com/alanyoungcy/arbscreener/internal/config"
	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/engine"
	"github.com/alanyoungcy/arbscreener/internal/notify"
	"github.com/alanyoungcy/arbscreener/internal/pipeline"
	"github.com/alanyoungcy/arbscreener/internal/server/handler"
	"github.com/alanyoungcy/arbscreener/internal/store/postgres"
	"github.com/alanyoungcy/arbscreener/internal/symbol"
)

// Bus is the message transport shared by the engine sinks, the quote feed and
// the WebSocket hub.
type Bus interface {
	domain.SignalBus
	domain.StreamLog
}

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function. Optional collaborators
// are nil when the mode does not use them.
type Dependencies struct {
	Normalizer *symbol.Normalizer
	Engine     *engine.Engine

	Bus         Bus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	QuoteCache  domain.QuoteCache

	History    domain.OpportunityStore
	BlobLister domain.BlobLister
	Archiver   *pipeline.Archiver

	Notifier *notify.Notifier

	// HealthChecks is keyed by dependency name for GET /api/health.
	HealthChecks map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Pinger)}

	norm, err := symbol.NewDefault(cfg.Symbols.Rules...)
	if err != nil {
		return fail(fmt.Errorf("wire: symbol rules: %w", err))
	}
	deps.Normalizer = norm

	// --- Redis (full mode; optional lock backend for archive) ---
	var redisClient *redis.Client
	if cfg.Mode == config.ModeFull || cfg.Mode == config.ModeArchive {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
		})
		switch {
		case err == nil:
			closers = append(closers, func() { _ = redisClient.Close() })
			deps.HealthChecks["redis"] = redisClient
		case cfg.Mode == config.ModeArchive:
			logger.WarnContext(ctx, "wire: redis unavailable, archive runs without a lock",
				slog.String("error", err.Error()))
			redisClient = nil
		default:
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
	}

	if redisClient != nil {
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
	} else {
		deps.Bus = memory.NewSignalBus()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- PostgreSQL (history) ---
	if cfg.NeedsPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.HealthChecks["postgres"] = pgClient

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.History = postgres.NewOpportunityStore(pgClient.Pool())
	}

	// --- S3 blob storage (archive) ---
	if cfg.NeedsS3() {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.HealthChecks["s3"] = pingFunc(s3Client.Health)

		reader := s3blob.NewReader(s3Client)
		deps.BlobLister = reader
		if deps.History != nil {
			blobArchiver := s3blob.NewHistoryArchiver(
				s3blob.NewWriter(s3Client),
				reader,
				deps.History,
				int64(cfg.Archive.MultipartThresholdMB)<<20,
			)
			deps.Archiver, err = pipeline.NewArchiver(blobArchiver, deps.LockManager, pipeline.ArchiverConfig{
				RetentionDays: cfg.Archive.RetentionDays,
				Schedule:      cfg.Archive.Cron,
				LockTTL:       cfg.Archive.LockTTL.Duration,
			}, logger)
			if err != nil {
				return fail(fmt.Errorf("wire: archiver: %w", err))
			}
		}
	}

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.MaxPerMinute, logger)

	// --- Engine ---
	sinks := []domain.CycleSink{
		engine.NewBusPublisher(deps.Bus, cfg.Engine.PublishMaxRows),
	}
	if deps.History != nil {
		sinks = append(sinks, engine.NewHistoryRecorder(deps.History))
	}
	sinks = append(sinks, notify.NewAlertSink(
		decimal.NewFromFloat(cfg.Notify.AlertMinPercent),
		deps.Bus, deps.Bus, deps.Notifier, logger,
	))

	opts := []engine.Option{engine.WithSinks(sinks...)}
	if deps.QuoteCache != nil {
		opts = append(opts, engine.WithMirror(deps.QuoteCache))
	}
	deps.Engine = engine.New(engine.Config{
		RecomputeInterval: cfg.Engine.RecomputeInterval.Duration,
		Freshness:         cfg.Engine.Freshness.Duration,
		Retention:         cfg.Engine.Retention.Duration,
		Floors:            cfg.Engine.Floors(),
	}, norm, logger, opts...)

	return deps, cleanup, nil
}
