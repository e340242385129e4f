// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

// Package mail delivers account e-mails over SMTP, or logs them in development.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
	gomail "github.com/wneessen/go-mail"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/internal/config"
)

// Subjects are formatted with the application name.
const (
	verificationSubjectFormat = "Verification code (%s)"
	resetSubjectFormat        = "Password recovery (%s)"

	sendTimeout = 30 * time.Second
)

// sender delivers composed messages. *gomail.Client satisfies it.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPMailer sends account e-mails through an SMTP relay.
type SMTPMailer struct {
	client  sender
	from    string
	appName string
	logger  *slog.Logger
}

// NewSMTPMailer creates an SMTPMailer for cfg. Authentication is enabled
// when a username is configured.
func NewSMTPMailer(cfg config.MailConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(sendTimeout),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("host", cfg.Host).
			With("port", cfg.Port).
			Wrap(err)
	}
	return newSMTPMailer(client, cfg, logger), nil
}

func newSMTPMailer(client sender, cfg config.MailConfig, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{client: client, from: cfg.From, appName: cfg.AppName, logger: logger}
}

// SendVerificationCode mails a registration one-time code.
func (m *SMTPMailer) SendVerificationCode(ctx context.Context, to string, code int, validFor time.Duration) error {
	body, err := render("verification", verificationData{AppName: m.appName, Code: code, Minutes: minutes(validFor)})
	if err != nil {
		return oops.With("operation", "render verification email").Wrap(err)
	}
	return m.send(ctx, "verification", to, fmt.Sprintf(verificationSubjectFormat, m.appName), body)
}

// SendPasswordReset mails a password reset link.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, resetURL string, validFor time.Duration) error {
	body, err := render("reset", resetData{AppName: m.appName, ResetURL: resetURL, Minutes: minutes(validFor)})
	if err != nil {
		return oops.With("operation", "render reset email").Wrap(err)
	}
	return m.send(ctx, "password_reset", to, fmt.Sprintf(resetSubjectFormat, m.appName), body)
}

func (m *SMTPMailer) send(ctx context.Context, kind, to, subj string, body rendered) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(m.appName, m.from); err != nil {
		return oops.With("operation", "set sender").With("from", m.from).Wrap(err)
	}
	if err := msg.To(to); err != nil {
		return oops.With("operation", "set recipient").With("kind", kind).Wrap(err)
	}
	msg.Subject(subj)
	msg.SetBodyString(gomail.TypeTextHTML, body.HTML)
	msg.AddAlternativeString(gomail.TypeTextPlain, body.Text)

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return oops.With("operation", "send email").With("kind", kind).Wrap(err)
	}

	m.logger.InfoContext(ctx, "email sent", "kind", kind)
	return nil
}

// LogMailer writes account e-mails to the log instead of sending them.
// It is meant for local development only.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendVerificationCode logs the code.
func (m *LogMailer) SendVerificationCode(ctx context.Context, to string, code int, validFor time.Duration) error {
	m.logger.InfoContext(ctx, "verification email (log driver)",
		"to", to, "code", code, "valid_minutes", minutes(validFor))
	return nil
}

// SendPasswordReset logs the reset link.
func (m *LogMailer) SendPasswordReset(ctx context.Context, to, resetURL string, validFor time.Duration) error {
	m.logger.InfoContext(ctx, "password reset email (log driver)",
		"to", to, "reset_url", resetURL, "valid_minutes", minutes(validFor))
	return nil
}

// New returns the mailer selected by cfg.Driver.
func New(cfg config.MailConfig, logger *slog.Logger) (auth.Mailer, error) {
	switch cfg.Driver {
	case "log":
		return NewLogMailer(logger), nil
	case "smtp":
		m, err := NewSMTPMailer(cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown mail driver %q", cfg.Driver)
	}
}

var (
	_ auth.Mailer = (*SMTPMailer)(nil)
	_ auth.Mailer = (*LogMailer)(nil)
)
