package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/deskforge/tradeterm/internal/blob/s3"
	"github.com/deskforge/tradeterm/internal/bus/memory"
	"github.com/deskforge/tradeterm/internal/bus/redis"
	"github.com/deskforge/tradeterm/internal/config"
	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/ledger"
	"github.com/deskforge/tradeterm/internal/notify"
	"github.com/deskforge/tradeterm/internal/secrets"
	"github.com/deskforge/tradeterm/internal/store/file"
	"github.com/deskforge/tradeterm/internal/store/postgres"
	"github.com/deskforge/tradeterm/internal/transport/dtc"
)

// Dependencies bundles every concrete dependency the terminal needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store     domain.ScopedStore
	Ledger    *ledger.Ledger
	Bus       domain.SignalBus
	Transport *dtc.Client

	// Optional; nil when the corresponding config section is disabled.
	RateLimiter domain.RateLimiter
	AuditStore  domain.AuditStore
	Archiver    *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration. The returned cleanup function releases resources in reverse
// construction order and must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Scoped file store: the crash-safe source of truth ---
	store, err := file.New(cfg.Session.DataDir)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: file store: %w", err)
	}
	deps.Store = store
	deps.Ledger = ledger.New(store, cfg.Session.SimStartingBalance, logger)

	// --- Signal bus: Redis when configured, in-process otherwise ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Bus = redis.NewBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	} else {
		deps.Bus = memory.NewBus()
	}

	// --- Postgres audit store (optional) ---
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
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- S3 audit archiver (optional, requires postgres) ---
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

		retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore, retention, logger)
	}

	// --- Broker transport ---
	creds, err := secrets.Resolve(secrets.Config{
		Username:      cfg.Broker.Username,
		Password:      cfg.Broker.Password,
		EncryptedPath: cfg.Broker.EncryptedCredentialsPath,
		FilePassword:  cfg.Broker.CredentialsPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: broker credentials: %w", err)
	}
	deps.Transport = dtc.New(cfg.Broker.Addr, creds.Username, creds.Password, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
