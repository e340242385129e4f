// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/internal/auth/mocks"
	"github.com/bookworm/bookworm/internal/config"
	"github.com/bookworm/bookworm/internal/observability"
	"github.com/bookworm/bookworm/internal/web"
)

type fakeUserStore struct {
	users  auth.UserRepository
	closed bool
}

func (f *fakeUserStore) Users() auth.UserRepository { return f.users }
func (f *fakeUserStore) Ping(context.Context) error { return nil }
func (f *fakeUserStore) Close()                     { f.closed = true }

type fakeServer struct {
	mu       sync.Mutex
	startErr error
	errCh    chan error
	started  chan struct{}
	stopped  bool
	handler  http.Handler
	metrics  *observability.Metrics
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		errCh:   make(chan error, 1),
		started: make(chan struct{}),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fakeServer) Start() (<-chan error, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	close(f.started)
	return f.errCh, nil
}

func (f *fakeServer) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeServer) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeServer) Addr() string                    { return "127.0.0.1:4000" }
func (f *fakeServer) Metrics() *observability.Metrics { return f.metrics }

type serveFixture struct {
	cfg     *config.Config
	store   *fakeUserStore
	obs     *fakeServer
	api     *fakeServer
	signals chan os.Signal
	obsMade bool
	deps    *ServeDeps
}

func newServeFixture(t *testing.T) *serveFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Database.URL = "postgres://db/bookworm"
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.BcryptCost = 4
	cfg.Mail.Driver = "log"
	cfg.Avatar.Bucket = "avatars"

	f := &serveFixture{
		cfg:     &cfg,
		store:   &fakeUserStore{users: mocks.NewMockUserRepository(t)},
		obs:     newFakeServer(),
		api:     newFakeServer(),
		signals: make(chan os.Signal, 1),
	}
	f.deps = &ServeDeps{
		ConfigLoader: func(string, *pflag.FlagSet) (*config.Config, error) { return f.cfg, nil },
		UserStoreOpener: func(context.Context, config.DatabaseConfig, *slog.Logger) (UserStore, error) {
			return f.store, nil
		},
		MailerFactory: func(config.MailConfig, *slog.Logger) (auth.Mailer, error) {
			return mocks.NewMockMailer(t), nil
		},
		UploaderFactory: func(context.Context, config.AvatarConfig, *slog.Logger) (auth.AvatarUploader, error) {
			return mocks.NewMockAvatarUploader(t), nil
		},
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			f.obsMade = true
			return f.obs
		},
		APIServerFactory: func(_ string, handler http.Handler, _ *slog.Logger) APIServer {
			f.api.handler = handler
			return f.api
		},
		SignalNotifier: func() (<-chan os.Signal, func()) { return f.signals, func() {} },
	}
	return f
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := NewServeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return cmd, &out
}

func (f *serveFixture) runAsync(t *testing.T) <-chan error {
	t.Helper()
	cmd, _ := testCmd()
	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(context.Background(), cmd, f.deps) }()
	select {
	case <-f.api.started:
	case err := <-done:
		t.Fatalf("serve returned before starting: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for api server to start")
	}
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for serve to return")
		return nil
	}
}

func TestRunServe_ShutsDownOnSignal(t *testing.T) {
	f := newServeFixture(t)
	done := f.runAsync(t)

	f.signals <- syscall.SIGTERM
	require.NoError(t, wait(t, done))

	assert.True(t, f.api.isStopped())
	assert.True(t, f.obs.isStopped())
	assert.True(t, f.store.closed)
	require.NotNil(t, f.api.handler)
}

func TestRunServe_RoutesAreMounted(t *testing.T) {
	f := newServeFixture(t)
	done := f.runAsync(t)
	defer func() {
		f.signals <- syscall.SIGINT
		_ = wait(t, done)
	}()

	req, err := http.NewRequest(http.MethodGet, web.BasePath+"/get-user", nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	f.api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRunServe_ServerErrorTriggersShutdown(t *testing.T) {
	f := newServeFixture(t)
	done := f.runAsync(t)

	f.api.errCh <- errors.New("listener closed")
	require.NoError(t, wait(t, done))
	assert.True(t, f.api.isStopped())
}

func TestRunServe_MetricsDisabled(t *testing.T) {
	f := newServeFixture(t)
	f.cfg.Metrics.Addr = ""
	done := f.runAsync(t)

	f.signals <- syscall.SIGTERM
	require.NoError(t, wait(t, done))
	assert.False(t, f.obsMade)
}

func TestRunServe_StartupFailures(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		f := newServeFixture(t)
		f.deps.ConfigLoader = func(string, *pflag.FlagSet) (*config.Config, error) {
			return nil, errors.New("bad config")
		}
		cmd, _ := testCmd()
		require.ErrorContains(t, runServeWithDeps(context.Background(), cmd, f.deps), "bad config")
	})

	t.Run("database", func(t *testing.T) {
		f := newServeFixture(t)
		f.deps.UserStoreOpener = func(context.Context, config.DatabaseConfig, *slog.Logger) (UserStore, error) {
			return nil, errors.New("connection refused")
		}
		cmd, _ := testCmd()
		require.ErrorContains(t, runServeWithDeps(context.Background(), cmd, f.deps), "connection refused")
	})

	t.Run("observability start", func(t *testing.T) {
		f := newServeFixture(t)
		f.obs.startErr = errors.New("address in use")
		cmd, _ := testCmd()
		require.ErrorContains(t, runServeWithDeps(context.Background(), cmd, f.deps), "address in use")
		assert.True(t, f.store.closed)
	})

	t.Run("api start stops observability", func(t *testing.T) {
		f := newServeFixture(t)
		f.api.startErr = errors.New("address in use")
		cmd, _ := testCmd()
		require.ErrorContains(t, runServeWithDeps(context.Background(), cmd, f.deps), "address in use")
		assert.True(t, f.obs.isStopped())
	})

	t.Run("mailer", func(t *testing.T) {
		f := newServeFixture(t)
		f.deps.MailerFactory = func(config.MailConfig, *slog.Logger) (auth.Mailer, error) {
			return nil, errors.New("smtp host missing")
		}
		cmd, _ := testCmd()
		require.ErrorContains(t, runServeWithDeps(context.Background(), cmd, f.deps), "smtp host missing")
	})
}

func TestNewLoginLimiter(t *testing.T) {
	l, cleanup, err := newLoginLimiter(context.Background(), config.RateLimitConfig{LoginPerMinute: 5})
	require.NoError(t, err)
	assert.IsType(t, &web.MemoryLimiter{}, l)
	cleanup()

	l, cleanup, err = newLoginLimiter(context.Background(), config.RateLimitConfig{})
	require.NoError(t, err)
	assert.Nil(t, l)
	cleanup()

	_, _, err = newLoginLimiter(context.Background(), config.RateLimitConfig{LoginPerMinute: 5, RedisURL: "::not a url"})
	require.Error(t, err)
}
