// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/internal/logging"
	"github.com/bookworm/bookworm/internal/observability"
	"github.com/bookworm/bookworm/internal/web"
)

// shutdownTimeout bounds graceful shutdown of both listeners.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the public account API and the observability listener.
The process shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
}

// runServeWithDeps starts the API with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := deps.ConfigLoader(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger := logging.SetDefault(logging.Options{
		Service: "bookworm",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Output:  cmd.ErrOrStderr(),
	})
	logger.Info("starting bookworm", "http_addr", cfg.HTTP.Addr, "metrics_addr", cfg.Metrics.Addr)

	users, err := deps.UserStoreOpener(ctx, cfg.Database, logger)
	if err != nil {
		return oops.With("operation", "open user store").Wrap(err)
	}
	defer users.Close()
	logger.Info("connected to database")

	hasher, err := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	mailer, err := deps.MailerFactory(cfg.Mail, logger)
	if err != nil {
		return err
	}
	uploader, err := deps.UploaderFactory(ctx, cfg.Avatar, logger)
	if err != nil {
		return err
	}

	registration, err := auth.NewRegistrationService(users.Users(), hasher, tokens, uploader, mailer,
		auth.RegistrationConfig{OTPTTL: cfg.Auth.OTPTTL, MaxPendingRegistrations: cfg.Auth.MaxPendingRegistrations},
		logger.With("component", "registration"))
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionService(users.Users(), hasher, tokens, logger.With("component", "sessions"))
	if err != nil {
		return err
	}
	resets, err := auth.NewPasswordResetService(users.Users(), hasher, tokens, mailer,
		auth.PasswordResetConfig{ResetTTL: cfg.Auth.ResetTTL, FrontendURL: cfg.HTTP.FrontendURL},
		logger.With("component", "password_reset"))
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := deps.LimiterFactory(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeLimiter()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, users.Ping, logger)
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return oops.With("operation", "start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		metrics = obsServer.Metrics()
	}

	router, err := web.NewRouter(web.RouterOptions{
		Registration:   registration,
		Sessions:       sessions,
		Resets:         resets,
		LoginLimiter:   limiter,
		Metrics:        metrics,
		Logger:         logger.With("component", "http"),
		FrontendURL:    cfg.HTTP.FrontendURL,
		CookieSecure:   cfg.HTTP.CookieSecure,
		MaxAvatarBytes: cfg.Avatar.MaxBytes,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		stopServers(logger, obsServer)
		return err
	}

	apiServer := deps.APIServerFactory(cfg.HTTP.Addr, router, logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopServers(logger, obsServer)
		return oops.With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	sigCh, stopSignals := deps.SignalNotifier()
	defer stopSignals()

	cmd.Println("BookWorm API started on " + apiServer.Addr())
	logger.Info("bookworm ready", "http_addr", apiServer.Addr())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	stopServers(logger, apiServer, obsServer)
	logger.Info("shutdown complete")
	return nil
}

type stoppable interface {
	Stop(ctx context.Context) error
}

// stopServers stops each non-nil server, logging failures.
func stopServers(logger *slog.Logger, servers ...stoppable) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if s == nil {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			logger.Warn("error stopping server", "error", err)
		}
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error.
// It exits when an error is received, the channel is closed, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
