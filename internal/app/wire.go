package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/seojinlab/kisbot/internal/blob/s3"
	"github.com/seojinlab/kisbot/internal/cache/redis"
	"github.com/seojinlab/kisbot/internal/config"
	"github.com/seojinlab/kisbot/internal/crypto"
	"github.com/seojinlab/kisbot/internal/domain"
	"github.com/seojinlab/kisbot/internal/market"
	"github.com/seojinlab/kisbot/internal/notify"
	"github.com/seojinlab/kisbot/internal/platform/kis"
	"github.com/seojinlab/kisbot/internal/store/file"
	"github.com/seojinlab/kisbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Broker access
	Client  *kis.Client
	Session *kis.SessionManager
	Stream  *kis.Stream

	// In-process market state
	Snapshot *market.Snapshot

	// Caching and coordination
	QuoteCache domain.QuoteCache
	Locks      domain.LockManager

	// Audit persistence (nil unless Postgres is enabled)
	Commands *postgres.CommandStore
	Fills    *postgres.FillStore

	// Archival (nil unless S3 and Postgres are enabled)
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Snapshot: market.NewSnapshot(),
	}

	// --- Broker secret and REST client ---
	appSecret, err := crypto.LoadAppSecret(crypto.SecretConfig{
		RawSecret:           cfg.KIS.AppSecret,
		EncryptedSecretPath: cfg.KIS.EncryptedSecretPath,
		SecretPassword:      cfg.KIS.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: app secret: %w", err)
	}

	env := kis.Environment(cfg.KIS.Environment)
	deps.Client = kis.NewClient(kis.ClientConfig{
		Env:       env,
		AppKey:    cfg.KIS.AppKey,
		AppSecret: appSecret,
		AccountNo: cfg.KIS.AccountNo,
		CustType:  cfg.KIS.CustType,
	})

	// --- Redis: credential cache, quote cache, per-symbol locks ---
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

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- Credential store ---
	var credStore domain.CredentialStore
	switch cfg.Credentials.Backend {
	case "redis":
		credStore = redis.NewCredentialCache(redisClient)
	default:
		credStore = file.NewCredentialStore(cfg.Credentials.FilePath)
	}

	// --- Session manager and streaming client ---
	deps.Session = kis.NewSessionManager(ctx, deps.Client, credStore, logger)
	deps.Client.SetTokenSource(deps.Session)

	decoder := kis.NewDecoder(cfg.KIS.AccountNo)
	deps.Stream = kis.NewStream(env, cfg.KIS.CustType, deps.Session, decoder, logger)
	closers = append(closers, func() { _ = deps.Stream.Close() })

	// --- PostgreSQL audit stores ---
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

		pool := pgClient.Pool()
		deps.Commands = postgres.NewCommandStore(pool)
		deps.Fills = postgres.NewFillStore(pool)
	}

	// --- S3 blob storage and archiver ---
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
		closers = append(closers, func() { _ = s3Client.Close() })

		if deps.Commands != nil && deps.Fills != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				deps.Commands,
				deps.Fills,
				logger,
			)
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
