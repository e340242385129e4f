// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/internal/observability"
)

const testFrontend = "https://library.test"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRegistrar struct {
	register  func(ctx context.Context, in auth.RegisterInput) (*auth.User, error)
	verifyOTP func(ctx context.Context, email, otp string) (*auth.Session, error)
}

func (f *fakeRegistrar) Register(ctx context.Context, in auth.RegisterInput) (*auth.User, error) {
	return f.register(ctx, in)
}

func (f *fakeRegistrar) VerifyOTP(ctx context.Context, email, otp string) (*auth.Session, error) {
	return f.verifyOTP(ctx, email, otp)
}

type fakeSessions struct {
	login        func(ctx context.Context, identifier, password string) (*auth.Session, error)
	authenticate func(ctx context.Context, token string) (*auth.User, error)
	logoutCalls  int
}

func (f *fakeSessions) Login(ctx context.Context, identifier, password string) (*auth.Session, error) {
	return f.login(ctx, identifier, password)
}

func (f *fakeSessions) Authenticate(ctx context.Context, token string) (*auth.User, error) {
	return f.authenticate(ctx, token)
}

func (f *fakeSessions) Logout(ctx context.Context) error {
	if _, ok := auth.UserFromContext(ctx); !ok {
		return auth.ErrUnauthenticated()
	}
	f.logoutCalls++
	return nil
}

func (f *fakeSessions) CurrentUser(ctx context.Context) (*auth.User, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, auth.ErrUnauthenticated()
	}
	return user, nil
}

func (f *fakeSessions) TokenTTL() time.Duration { return time.Hour }

type fakeResets struct {
	forgot func(ctx context.Context, email string) error
	reset  func(ctx context.Context, token, password, confirm string) (*auth.Session, error)
	update func(ctx context.Context, current, next, confirm string) error
}

func (f *fakeResets) ForgotPassword(ctx context.Context, email string) error {
	return f.forgot(ctx, email)
}

func (f *fakeResets) ResetPassword(ctx context.Context, token, password, confirm string) (*auth.Session, error) {
	return f.reset(ctx, token, password, confirm)
}

func (f *fakeResets) UpdatePassword(ctx context.Context, current, next, confirm string) error {
	return f.update(ctx, current, next, confirm)
}

type testAPI struct {
	engine   *gin.Engine
	reg      *fakeRegistrar
	sessions *fakeSessions
	resets   *fakeResets
	metrics  *observability.Metrics
	registry *prometheus.Registry
	logs     *bytes.Buffer
}

func newTestAPI(t *testing.T, limiter RateLimiter, mutate ...func(*RouterOptions)) *testAPI {
	t.Helper()
	api := &testAPI{
		reg:      &fakeRegistrar{},
		sessions: &fakeSessions{},
		resets:   &fakeResets{},
		registry: prometheus.NewRegistry(),
		logs:     &bytes.Buffer{},
	}
	api.metrics = observability.NewMetrics(api.registry)

	opts := RouterOptions{
		Registration:   api.reg,
		Sessions:       api.sessions,
		Resets:         api.resets,
		LoginLimiter:   limiter,
		Metrics:        api.metrics,
		Logger:         slog.New(slog.NewJSONHandler(api.logs, nil)),
		FrontendURL:    testFrontend + "/",
		CookieSecure:   true,
		MaxAvatarBytes: 1 << 20,
	}
	for _, m := range mutate {
		m(&opts)
	}
	engine, err := NewRouter(opts)
	require.NoError(t, err)
	api.engine = engine
	return api
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) postJSON(path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, BasePath+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

// envelope is the union of the success and error bodies.
type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &env), "body: %s", body)
	return env
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func testUser(t *testing.T) *auth.User {
	t.Helper()
	user, err := auth.NewUser("ada", "Ada Lovelace", "ada@example.com", "https://cdn.test/a.png")
	require.NoError(t, err)
	user.MarkVerified()
	return user
}

func testSession(t *testing.T) *auth.Session {
	t.Helper()
	return &auth.Session{User: testUser(t), Token: "signed.jwt.token", ExpiresAt: time.Now().Add(time.Hour)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
