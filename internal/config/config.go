// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

// Package config loads BookWorm server configuration from defaults, flags,
// an optional YAML file and BOOKWORM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
// Sections are separated by a double underscore: BOOKWORM_AUTH__JWT_SECRET.
const EnvPrefix = "BOOKWORM_"

// Config is the full server configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Mail      MailConfig      `koanf:"mail"`
	Avatar    AvatarConfig    `koanf:"avatar"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// HTTPConfig configures the public API listener. TrustedProxies lists the
// proxy IPs or CIDRs whose forwarding headers name the client; when empty the
// socket peer is the client.
type HTTPConfig struct {
	Addr           string   `koanf:"addr"`
	FrontendURL    string   `koanf:"frontend_url"`
	CookieSecure   bool     `koanf:"cookie_secure"`
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	ConnectAttempts uint64 `koanf:"connect_attempts"`
	AutoMigrate     bool   `koanf:"auto_migrate"`
}

// AuthConfig holds the account and session tunables.
type AuthConfig struct {
	JWTSecret               string        `koanf:"jwt_secret"`
	SessionTTL              time.Duration `koanf:"session_ttl"`
	OTPTTL                  time.Duration `koanf:"otp_ttl"`
	ResetTTL                time.Duration `koanf:"reset_ttl"`
	BcryptCost              int           `koanf:"bcrypt_cost"`
	MaxPendingRegistrations int           `koanf:"max_pending_registrations"`
}

// RateLimitConfig configures the login throttle. An empty RedisURL selects
// the in-process limiter.
type RateLimitConfig struct {
	LoginPerMinute int    `koanf:"login_per_minute"`
	RedisURL       string `koanf:"redis_url"`
}

// MailConfig configures outgoing e-mail.
type MailConfig struct {
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	AppName  string `koanf:"app_name"`
}

// AvatarConfig configures the S3-compatible avatar bucket.
type AvatarConfig struct {
	Bucket        string `koanf:"bucket"`
	Region        string `koanf:"region"`
	Endpoint      string `koanf:"endpoint"`
	AccessKey     string `koanf:"access_key"`
	SecretKey     string `koanf:"secret_key"`
	PublicBaseURL string `koanf:"public_base_url"`
	MaxBytes      int64  `koanf:"max_bytes"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":4000",
			FrontendURL:  "http://localhost:5173",
			CookieSecure: true,
		},
		Database: DatabaseConfig{
			ConnectAttempts: 5,
		},
		Auth: AuthConfig{
			SessionTTL:              48 * time.Hour,
			OTPTTL:                  15 * time.Minute,
			ResetTTL:                15 * time.Minute,
			BcryptCost:              10,
			MaxPendingRegistrations: 5,
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: 5,
		},
		Mail: MailConfig{
			Driver:  "smtp",
			Port:    587,
			AppName: "BookWorm Library Management System",
		},
		Avatar: AvatarConfig{
			Region:   "us-east-1",
			MaxBytes: 2 << 20,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// RegisterFlags adds the command-line overrides understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "public API listen address")
	fs.StringSlice("trusted-proxies", d.HTTP.TrustedProxies, "proxy IPs or CIDRs allowed to set X-Forwarded-For")
	fs.String("metrics-addr", d.Metrics.Addr, "observability listen address (empty disables)")
	fs.String("database-url", d.Database.URL, "PostgreSQL connection URL")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":       "http.addr",
	"trusted-proxies": "http.trusted_proxies",
	"metrics-addr":    "metrics.addr",
	"database-url":    "database.url",
	"auto-migrate":    "database.auto_migrate",
	"log-format":      "log.format",
	"log-level":       "log.level",
}

// dotenvLoader is replaced in tests.
var dotenvLoader = godotenv.Load

// Load builds a Config. Later sources win: defaults, .env, flags, the YAML
// file at path (if path is non-empty), then environment variables. flags may
// be nil. The result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := load(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase loads the same sources as Load but only requires the database
// section. Maintenance commands use it.
func LoadDatabase(path string, flags *pflag.FlagSet) (DatabaseConfig, error) {
	cfg, err := load(path, flags)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if cfg.Database.URL == "" {
		return DatabaseConfig{}, oops.Code("CONFIG_INVALID").
			With("problems", []string{"database.url is required"}).
			Errorf("invalid configuration: database.url is required")
	}
	return cfg.Database, nil
}

func load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := dotenvLoader(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", ".env").Wrap(err)
	}

	k := koanf.New(".")

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", path).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps BOOKWORM_AUTH__JWT_SECRET to auth.jwt_secret.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// listKeys are configuration keys whose environment values are comma separated.
var listKeys = map[string]bool{
	"http.trusted_proxies": true,
}

func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var problems []string
	add := func(p string) { problems = append(problems, p) }

	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}
	for _, p := range c.HTTP.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			add(fmt.Sprintf("http.trusted_proxies entry %q is not an IP or CIDR", p))
		}
	}
	if c.Database.URL == "" {
		add("database.url is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		add("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.SessionTTL <= 0 {
		add("auth.session_ttl must be positive")
	}
	if c.Auth.OTPTTL <= 0 {
		add("auth.otp_ttl must be positive")
	}
	if c.Auth.ResetTTL <= 0 {
		add("auth.reset_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		add("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Auth.MaxPendingRegistrations < 1 {
		add("auth.max_pending_registrations must be at least 1")
	}
	if c.RateLimit.LoginPerMinute < 1 {
		add("rate_limit.login_per_minute must be at least 1")
	}
	switch c.Mail.Driver {
	case "smtp":
		if c.Mail.Host == "" {
			add("mail.host is required for the smtp driver")
		}
		if c.Mail.From == "" {
			add("mail.from is required for the smtp driver")
		}
	case "log":
	default:
		add("mail.driver must be smtp or log")
	}
	if c.Avatar.Bucket == "" {
		add("avatar.bucket is required")
	}
	if c.Avatar.MaxBytes <= 0 {
		add("avatar.max_bytes must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format must be json or text")
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
