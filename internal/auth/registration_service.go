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

// DefaultMaxPendingRegistrations is the number of unverified registrations an
// identity may accumulate before further attempts are refused.
const DefaultMaxPendingRegistrations = 5

// RegistrationConfig holds the tunables of the registration flow.
type RegistrationConfig struct {
	OTPTTL                  time.Duration
	MaxPendingRegistrations int
}

func (c RegistrationConfig) withDefaults() RegistrationConfig {
	if c.OTPTTL <= 0 {
		c.OTPTTL = DefaultOTPTTL
	}
	if c.MaxPendingRegistrations <= 0 {
		c.MaxPendingRegistrations = DefaultMaxPendingRegistrations
	}
	return c
}

// RegisterInput carries the fields submitted on registration.
type RegisterInput struct {
	Username string
	FullName string
	Email    string
	Password string
	Avatar   *Avatar
}

// RegistrationService creates pending accounts and verifies them by e-mailed code.
type RegistrationService struct {
	users    UserRepository
	hasher   PasswordHasher
	tokens   *TokenIssuer
	uploader AvatarUploader
	mailer   Mailer
	cfg      RegistrationConfig
	logger   *slog.Logger
}

// NewRegistrationService creates a RegistrationService. All dependencies are required.
func NewRegistrationService(
	users UserRepository,
	hasher PasswordHasher,
	tokens *TokenIssuer,
	uploader AvatarUploader,
	mailer Mailer,
	cfg RegistrationConfig,
	logger *slog.Logger,
) (*RegistrationService, error) {
	switch {
	case users == nil:
		return nil, oops.Errorf("user repository is required")
	case hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case tokens == nil:
		return nil, oops.Errorf("token issuer is required")
	case uploader == nil:
		return nil, oops.Errorf("avatar uploader is required")
	case mailer == nil:
		return nil, oops.Errorf("mailer is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	return &RegistrationService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		uploader: uploader,
		mailer:   mailer,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}, nil
}

// Register stores a new unverified user and mails it a verification code.
//
// The avatar is uploaded before anything is written and deleted again if the
// user cannot be stored. If the code cannot be mailed the pending user is kept
// and the error is returned; the caller can register again while under the
// attempt cap.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	fullName := strings.TrimSpace(in.FullName)
	email := NormalizeEmail(in.Email)

	if username == "" || fullName == "" || email == "" || in.Password == "" {
		return nil, errValidation("please enter all fields")
	}
	if in.Avatar == nil || in.Avatar.Content == nil {
		return nil, errValidation("avatar is required")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	exists, err := s.users.VerifiedExists(ctx, username, email)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check verified account").
			Wrap(err)
	}
	if exists {
		return nil, oops.Code(CodeAccountExists).
			With("username", username).
			With("email", email).
			Errorf("user already exists")
	}

	pending, err := s.users.CountPending(ctx, username, email)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "count pending registrations").
			Wrap(err)
	}
	if pending >= s.cfg.MaxPendingRegistrations {
		return nil, oops.Code(CodeTooManyAttempts).
			With("pending", pending).
			With("limit", s.cfg.MaxPendingRegistrations).
			Errorf("you have exceeded the number of registration attempts, please contact us")
	}

	avatarURL, err := s.uploader.Upload(ctx, *in.Avatar)
	if err != nil {
		if errors.Is(err, ErrInvalidAvatar) {
			return nil, oops.Code(CodeInvalidAvatar).
				With("filename", in.Avatar.Filename).
				Errorf("avatar must be a PNG, JPEG, GIF or WebP image")
		}
		return nil, oops.Code(CodeAvatarUploadFailed).
			With("operation", "upload avatar").
			Wrap(err)
	}

	user, err := s.newPendingUser(ctx, username, fullName, email, in.Password, avatarURL)
	if err != nil {
		s.discardAvatar(ctx, avatarURL)
		return nil, err
	}
	code := *user.VerificationCode

	if err := s.mailer.SendVerificationCode(ctx, user.Email, code, s.cfg.OTPTTL); err != nil {
		s.logger.Warn("verification code not delivered, pending registration kept",
			"user_id", user.ID.String(),
			"error", err,
		)
		return nil, oops.Code(CodeEmailFailed).
			With("operation", "send verification code").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.Info("registration pending verification",
		"user_id", user.ID.String(),
		"pending_before", pending,
	)
	return user, nil
}

// newPendingUser builds and stores an unverified user with a fresh code.
func (s *RegistrationService) newPendingUser(ctx context.Context, username, fullName, email, password, avatarURL string) (*User, error) {
	user, err := NewUser(username, fullName, email, avatarURL)
	if err != nil {
		return nil, err
	}
	if err := user.SetPassword(s.hasher, password); err != nil {
		return nil, err
	}

	code, err := GenerateOTP()
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "generate verification code").
			Wrap(err)
	}
	user.SetVerificationCode(code, time.Now().Add(s.cfg.OTPTTL))

	if err := s.users.Create(ctx, user); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// discardAvatar deletes an uploaded avatar no user refers to.
func (s *RegistrationService) discardAvatar(ctx context.Context, url string) {
	if err := s.uploader.Delete(context.WithoutCancel(ctx), url); err != nil {
		s.logger.Warn("best-effort avatar cleanup failed",
			"operation", "delete_avatar",
			"avatar", url,
			"error", err,
		)
	}
}

// VerifyOTP verifies the newest pending registration for email and opens a
// session for it. Older pending registrations for the same email are
// superseded and deleted together with the verification.
func (s *RegistrationService) VerifyOTP(ctx context.Context, email, otp string) (*Session, error) {
	email = NormalizeEmail(email)
	if email == "" || strings.TrimSpace(otp) == "" {
		return nil, errValidation("email or OTP is missing")
	}

	pending, err := s.users.ListPendingByEmail(ctx, email)
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "list pending registrations").
			Wrap(err)
	}
	if len(pending) == 0 {
		return nil, ErrUserNotFound()
	}
	user := pending[0]

	code, err := ParseOTP(otp)
	if err != nil {
		return nil, err
	}
	if err := user.CheckVerificationCode(code, time.Now()); err != nil {
		return nil, err
	}

	user.MarkVerified()
	purged, err := s.users.CompleteVerification(ctx, user)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, oops.Code(CodeAccountExists).
				With("user_id", user.ID.String()).
				Errorf("user already exists")
		}
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "complete verification").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	s.logger.Info("account verified",
		"user_id", user.ID.String(),
		"purged_pending", purged,
	)
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
