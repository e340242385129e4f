// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
)

// resetPathPrefix is appended to the frontend URL to build reset links.
const resetPathPrefix = "/password/reset/"

// PasswordResetConfig holds the tunables of the password reset flow.
type PasswordResetConfig struct {
	ResetTTL    time.Duration
	FrontendURL string
}

// PasswordResetService handles forgotten, reset and changed passwords.
type PasswordResetService struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenIssuer
	mailer Mailer
	cfg    PasswordResetConfig
	logger *slog.Logger
}

// NewPasswordResetService creates a PasswordResetService. All dependencies are required.
func NewPasswordResetService(
	users UserRepository,
	hasher PasswordHasher,
	tokens *TokenIssuer,
	mailer Mailer,
	cfg PasswordResetConfig,
	logger *slog.Logger,
) (*PasswordResetService, error) {
	switch {
	case users == nil:
		return nil, oops.Errorf("user repository is required")
	case hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case tokens == nil:
		return nil, oops.Errorf("token issuer is required")
	case mailer == nil:
		return nil, oops.Errorf("mailer is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &PasswordResetService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		mailer: mailer,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// ForgotPassword opens a reset window for the verified user with email and
// mails the reset link. If the mail cannot be sent the window is closed again.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return errValidation("email is required")
	}

	user, err := s.users.GetVerifiedByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound()
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	expiresAt := time.Now().Add(s.cfg.ResetTTL)
	if err := s.users.SetResetToken(ctx, user.ID, hash, expiresAt); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	user.SetResetToken(hash, expiresAt)

	resetURL := s.cfg.FrontendURL + resetPathPrefix + token
	if err := s.mailer.SendPasswordReset(ctx, user.Email, resetURL, s.cfg.ResetTTL); err != nil {
		user.ClearResetToken()
		// Only this request's token is cleared; a password changed meanwhile stays.
		if clearErr := s.users.ClearResetToken(ctx, user.ID, hash); clearErr != nil {
			s.logger.Warn("best-effort reset token rollback failed",
				"operation", "clear_reset_token",
				"user_id", user.ID.String(),
				"error", clearErr,
			)
		}
		return oops.Code(CodeEmailFailed).
			With("operation", "send password reset").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.Info("password reset requested", "user_id", user.ID.String())
	return nil
}

// ResetPassword sets a new password using a mailed reset token. The token is
// single use even under concurrent requests. On success a new session is
// opened for the user.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, password, confirmPassword string) (*Session, error) {
	if token == "" {
		return nil, errResetTokenInvalid()
	}
	if password == "" || confirmPassword == "" {
		return nil, errValidation("please enter all fields")
	}

	tokenHash := HashResetToken(token)
	user, err := s.users.GetByResetTokenHash(ctx, tokenHash, time.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errResetTokenInvalid()
		}
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}

	if password != confirmPassword {
		return nil, errPasswordMismatch()
	}
	if err := user.SetPassword(s.hasher, password); err != nil {
		return nil, err
	}

	user, err = s.users.ConsumeResetToken(ctx, tokenHash, time.Now(), user.PasswordHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errResetTokenInvalid()
		}
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}

	sessionToken, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	s.logger.Info("password reset completed", "user_id", user.ID.String())
	return &Session{User: user, Token: sessionToken, ExpiresAt: expiresAt}, nil
}

// UpdatePassword changes the password of the user carried by ctx after
// checking its current password.
func (s *PasswordResetService) UpdatePassword(ctx context.Context, currentPassword, newPassword, confirmPassword string) error {
	user, ok := UserFromContext(ctx)
	if !ok {
		return ErrUnauthenticated()
	}
	if currentPassword == "" || newPassword == "" || confirmPassword == "" {
		return errValidation("please enter all fields")
	}

	valid, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "verify current password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !valid {
		return oops.Code(CodeInvalidCredentials).Errorf("current password is incorrect")
	}

	if newPassword != confirmPassword {
		return errPasswordMismatch()
	}
	if err := user.SetPassword(s.hasher, newPassword); err != nil {
		return err
	}

	if err := s.users.UpdatePasswordHash(ctx, user.ID, user.PasswordHash); err != nil {
		return oops.Code("PASSWORD_UPDATE_FAILED").
			With("operation", "update password hash").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.Info("password updated", "user_id", user.ID.String())
	return nil
}

func errResetTokenInvalid() error {
	return oops.Code(CodeResetTokenInvalid).Errorf("reset password token is invalid or has been expired")
}

func errPasswordMismatch() error {
	return oops.Code(CodePasswordMismatch).Errorf("password and confirm password do not match")
}
