package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	s3blob "github.com/lfang615/crypto-trading-service/internal/blob/s3"
	"github.com/lfang615/crypto-trading-service/internal/cache/redis"
	"github.com/lfang615/crypto-trading-service/internal/config"
	"github.com/lfang615/crypto-trading-service/internal/crypto"
	"github.com/lfang615/crypto-trading-service/internal/dispatch"
	"github.com/lfang615/crypto-trading-service/internal/exchange"
	"github.com/lfang615/crypto-trading-service/internal/guard"
	"github.com/lfang615/crypto-trading-service/internal/notify"
	"github.com/lfang615/crypto-trading-service/internal/resilience"
	"github.com/lfang615/crypto-trading-service/internal/store/postgres"
)

// Dependencies bundles the wired application objects. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Dispatcher *dispatch.Dispatcher
	Worker     *dispatch.Worker
	Notifier   *notify.Notifier
}

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

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	cipher, err := crypto.NewCipher(cfg.Security.MasterKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: credential cipher: %w", err)
	}

	pool := pgClient.Pool()
	results := postgres.NewOrderResultStore(pool)
	creds := postgres.NewCredentialStore(pool, cipher)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	locks := redis.NewLockManager(redisClient)
	positions := redis.NewPositionCache(redisClient)
	outcomes := redis.NewOutcomeCache(redisClient)
	events := redis.NewEventBus(redisClient)

	consumer, err := os.Hostname()
	if err != nil || consumer == "" {
		consumer = uuid.NewString()
	}
	intake, err := redis.NewIntake(ctx, redisClient,
		cfg.Dispatch.IntakeStream, cfg.Dispatch.IntakeGroup, consumer)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: intake: %w", err)
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
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Guards, resilience, dispatcher ---
	idem := guard.NewIdempotencyGuard(locks, outcomes,
		cfg.Dispatch.ClaimTTL.Duration, cfg.Dispatch.ReplayWindow.Duration, logger)
	posGuard := guard.NewPositionGuard(positions, logger)

	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold: cfg.Dispatch.BreakerFailureThreshold,
		Cooldown:         cfg.Dispatch.BreakerCooldown.Duration,
	}, logger)
	caller := resilience.NewCaller(breakers, resilience.CallerConfig{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout.Duration,
	}, logger)

	dispatcher := dispatch.New(idem, posGuard, creds, caller, exchange.New,
		results, events, logger).
		WithTopic(cfg.Dispatch.EventStream).
		WithAlerter(notifier)

	// --- S3 raw payload archive (optional) ---
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
		dispatcher.WithArchive(s3blob.NewWriter(s3Client))
	}

	worker := dispatch.NewWorker(intake, dispatcher, cfg.Dispatch.Workers, logger)

	return &Dependencies{
		Dispatcher: dispatcher,
		Worker:     worker,
		Notifier:   notifier,
	}, cleanup, nil
}
