// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

// Package web exposes the account API over HTTP.
package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/bookworm/bookworm/internal/observability"
)

// BasePath is where the account routes are mounted.
const BasePath = "/api/v1/user"

// multipartOverhead is added to the avatar limit to leave room for the text fields.
const multipartOverhead = 1 << 20

// RouterOptions wires the router to its services.
type RouterOptions struct {
	Registration Registrar
	Sessions     SessionManager
	Resets       PasswordResetter

	// LoginLimiter throttles POST /login. Nil disables throttling.
	LoginLimiter RateLimiter
	Metrics      *observability.Metrics
	Logger       *slog.Logger

	FrontendURL    string
	CookieSecure   bool
	MaxAvatarBytes int64

	// TrustedProxies lists the proxy IPs or CIDRs allowed to name the client
	// in X-Forwarded-For. Empty trusts no proxy.
	TrustedProxies []string
}

// NewRouter builds the gin engine serving the account API.
func NewRouter(opts RouterOptions) (*gin.Engine, error) {
	switch {
	case opts.Registration == nil:
		return nil, oops.Errorf("registration service is required")
	case opts.Sessions == nil:
		return nil, oops.Errorf("session service is required")
	case opts.Resets == nil:
		return nil, oops.Errorf("password reset service is required")
	case opts.Logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	origin := strings.TrimRight(opts.FrontendURL, "/")
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return nil, oops.Code("WEB_CONFIG_INVALID").With("frontend_url", opts.FrontendURL).
			Errorf("frontend url must be an http(s) origin")
	}

	h := &handler{
		registration: opts.Registration,
		sessions:     opts.Sessions,
		resets:       opts.Resets,
		cookieSecure: opts.CookieSecure,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, oops.Code("WEB_CONFIG_INVALID").With("trusted_proxies", opts.TrustedProxies).Wrap(err)
	}
	if opts.MaxAvatarBytes > 0 {
		r.MaxMultipartMemory = opts.MaxAvatarBytes + multipartOverhead
		h.maxRegisterBytes = opts.MaxAvatarBytes + multipartOverhead
	}
	r.Use(
		requestID(),
		accessLog(opts.Logger, opts.Metrics),
		recovery(opts.Logger),
		cors.New(cors.Config{
			AllowOrigins:     []string{origin},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, opts.Logger, oops.Code(CodeNotFound).Errorf("route %s %s not found", c.Request.Method, c.Request.URL.Path))
	})
	r.NoMethod(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, errorEnvelope{
			StatusCode: http.StatusMethodNotAllowed,
			Code:       "METHOD_NOT_ALLOWED",
			Message:    "method not allowed",
		})
	})

	login := []gin.HandlerFunc{h.login}
	if opts.LoginLimiter != nil {
		login = append([]gin.HandlerFunc{rateLimit(opts.LoginLimiter, opts.Metrics, opts.Logger)}, login...)
	}

	api := r.Group(BasePath)
	api.POST("/register", h.register)
	api.POST("/verify-otp", h.verifyOTP)
	api.POST("/login", login...)
	api.POST("/forgot-password", h.forgotPassword)
	api.POST("/reset-password/:token", h.resetPassword)

	authed := api.Group("", h.requireAuth())
	authed.POST("/logout", h.logout)
	authed.GET("/get-user", h.getUser)
	authed.PUT("/update-password", h.updatePassword)

	return r, nil
}
