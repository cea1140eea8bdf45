package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/vaultkeeper/internal/blob/s3"
	"github.com/alanyoungcy/vaultkeeper/internal/cache/redis"
	"github.com/alanyoungcy/vaultkeeper/internal/config"
	"github.com/alanyoungcy/vaultkeeper/internal/crypto"
	"github.com/alanyoungcy/vaultkeeper/internal/domain"
	"github.com/alanyoungcy/vaultkeeper/internal/notify"
	"github.com/alanyoungcy/vaultkeeper/internal/platform/ledger"
	"github.com/alanyoungcy/vaultkeeper/internal/server/handler"
	"github.com/alanyoungcy/vaultkeeper/internal/store/postgres"
	"github.com/alanyoungcy/vaultkeeper/internal/vault"
)

// Dependencies bundles everything the application modes need. Optional
// infrastructure (Postgres, Redis, S3) leaves its fields nil when disabled.
type Dependencies struct {
	// Vault core
	Engine     *vault.Engine
	Actions    *vault.ActionHandler
	Operations *vault.Operations

	// Stores
	AuditStore     domain.AuditStore
	OperationStore domain.OperationStore

	// Coordination
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health lists the reachable infrastructure for /api/health.
	Health map[string]handler.Pinger
}

// pingFunc adapts a plain health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}
	engineOpts := []vault.Option{vault.WithLogger(logger)}
	opsOpts := []vault.OperationsOption{vault.WithOperationsLogger(logger)}

	var (
		auditStore     *postgres.AuditStore
		operationStore *postgres.OperationStore
	)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		auditStore = postgres.NewAuditStore(pool)
		operationStore = postgres.NewOperationStore(pool)
		deps.AuditStore = auditStore
		deps.OperationStore = operationStore
		deps.Health["postgres"] = pgClient
		engineOpts = append(engineOpts, vault.WithOperationStore(deps.OperationStore))
		opsOpts = append(opsOpts, vault.WithAuditStore(deps.AuditStore))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Health["redis"] = redisClient
		engineOpts = append(engineOpts, vault.WithSequence(redis.NewSequence(redisClient)))
		opsOpts = append(opsOpts, vault.WithLockManager(redis.NewLockManager(redisClient, logger), cfg.Monitor.LockTTL.Duration))
	} else {
		logger.InfoContext(ctx, "redis disabled; using in-process locks and sequences")
		opsOpts = append(opsOpts, vault.WithLockManager(vault.NewLocalLocker(), cfg.Monitor.LockTTL.Duration))
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = pingFunc(s3Client.Health)

		if auditStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client, cfg.S3.Prefix),
				auditStore,
				operationStore,
				auditStore,
			)
		}
	}

	// --- Ledger gateway ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.Ledger.ClientSecret,
		EncryptedPath: cfg.Ledger.EncryptedSecretPath,
		Password:      cfg.Ledger.SecretPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: ledger secret: %w", err))
	}
	auth := &crypto.HMACAuth{
		ClientID: cfg.Vault.ClientID,
		Secret:   secret,
		Network:  cfg.Vault.NetworkID,
	}
	transport := ledger.NewClient(cfg.Ledger.URL, auth, cfg.Ledger.Timeout.Duration)

	// --- Vault core ---
	engine, err := vault.NewEngine(domain.VaultConfig{
		NetworkID:      cfg.Vault.NetworkID,
		ClientID:       cfg.Vault.ClientID,
		RetryLimit:     cfg.Vault.RetryLimit,
		RetryDelay:     cfg.Vault.RetryDelay.Duration,
		AttemptTimeout: cfg.Vault.AttemptTimeout.Duration,
	}, transport, engineOpts...)
	if err != nil {
		return fail(fmt.Errorf("wire: vault engine: %w", err))
	}
	deps.Engine = engine
	deps.Actions = vault.NewActionHandler(engine)
	deps.Operations = vault.NewOperations(engine, opsOpts...)

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.DedupWindow.Duration, logger)

	return deps, cleanup, nil
}
