// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/internal/auth/postgres"
	"github.com/bookworm/bookworm/internal/avatar"
	"github.com/bookworm/bookworm/internal/config"
	"github.com/bookworm/bookworm/internal/mail"
	"github.com/bookworm/bookworm/internal/observability"
	"github.com/bookworm/bookworm/internal/store"
	"github.com/bookworm/bookworm/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(path string, flags *pflag.FlagSet) (*config.Config, error)

	// UserStoreOpener connects to the database and applies migrations when enabled.
	// Default: openPostgresUsers
	UserStoreOpener func(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (UserStore, error)

	// MailerFactory creates the e-mail transport.
	// Default: mail.New
	MailerFactory func(cfg config.MailConfig, logger *slog.Logger) (auth.Mailer, error)

	// UploaderFactory creates the avatar store.
	// Default: avatar.NewS3Uploader
	UploaderFactory func(ctx context.Context, cfg config.AvatarConfig, logger *slog.Logger) (auth.AvatarUploader, error)

	// LimiterFactory creates the login rate limiter and its cleanup.
	// Default: newLoginLimiter
	LimiterFactory func(ctx context.Context, cfg config.RateLimitConfig) (web.RateLimiter, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// APIServerFactory creates the public API server.
	// Default: web.NewServer
	APIServerFactory func(addr string, handler http.Handler, logger *slog.Logger) APIServer

	// SignalNotifier returns the shutdown signal channel and a stop function.
	// Default: SIGINT and SIGTERM via os/signal
	SignalNotifier func() (<-chan os.Signal, func())
}

// UserStore is an open user repository together with its connection.
type UserStore interface {
	Users() auth.UserRepository
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer interface wraps the methods used from web.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.UserStoreOpener == nil {
		d.UserStoreOpener = openPostgresUsers
	}
	if d.MailerFactory == nil {
		d.MailerFactory = mail.New
	}
	if d.UploaderFactory == nil {
		d.UploaderFactory = func(ctx context.Context, cfg config.AvatarConfig, logger *slog.Logger) (auth.AvatarUploader, error) {
			u, err := avatar.NewS3Uploader(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return u, nil
		}
	}
	if d.LimiterFactory == nil {
		d.LimiterFactory = newLoginLimiter
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, checker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, checker, logger, observability.WithBuildInfo(version, commit))
		}
	}
	if d.APIServerFactory == nil {
		d.APIServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) APIServer {
			return web.NewServer(addr, handler, logger)
		}
	}
	if d.SignalNotifier == nil {
		d.SignalNotifier = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	return d
}

// postgresUsers is the production UserStore.
type postgresUsers struct {
	pool  *pgxpool.Pool
	users *postgres.UserRepository
}

func (p *postgresUsers) Users() auth.UserRepository     { return p.users }
func (p *postgresUsers) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
func (p *postgresUsers) Close()                         { p.pool.Close() }

func openPostgresUsers(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (UserStore, error) {
	if cfg.AutoMigrate {
		if err := migrateUp(cfg.URL, logger); err != nil {
			return nil, err
		}
	}
	pool, err := store.Connect(ctx, cfg.URL, store.ConnectOptions{Attempts: cfg.ConnectAttempts, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &postgresUsers{pool: pool, users: postgres.NewUserRepository(pool)}, nil
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	migrator, err := store.NewMigrator(databaseURL, store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// loginWindow is the period over which RateLimitConfig.LoginPerMinute applies.
const loginWindow = time.Minute

// newLoginLimiter selects the Redis limiter when a URL is configured.
func newLoginLimiter(ctx context.Context, cfg config.RateLimitConfig) (web.RateLimiter, func(), error) {
	if cfg.LoginPerMinute <= 0 {
		return nil, func() {}, nil
	}
	if cfg.RedisURL == "" {
		return web.NewMemoryLimiter(cfg.LoginPerMinute, loginWindow), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("key", "rate_limit.redis_url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return web.NewRedisLimiter(client, "bookworm:login:", cfg.LoginPerMinute, loginWindow), func() { _ = client.Close() }, nil
}
