// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session is an authenticated user together with its signed session token.
type Session struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a published bcrypt test vector.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// SessionService authenticates users and resolves session tokens.
type SessionService struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewSessionService creates a SessionService. All dependencies are required.
func NewSessionService(users UserRepository, hasher PasswordHasher, tokens *TokenIssuer, logger *slog.Logger) (*SessionService, error) {
	switch {
	case users == nil:
		return nil, oops.Errorf("user repository is required")
	case hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case tokens == nil:
		return nil, oops.Errorf("token issuer is required")
	case logger == nil:
		return nil, oops.Errorf("logger is required")
	}
	return &SessionService{users: users, hasher: hasher, tokens: tokens, logger: logger}, nil
}

// Login authenticates a verified user by email or username.
// Unknown identities, unverified accounts and wrong passwords all fail with
// the same error, and a password check runs in every case.
func (s *SessionService) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, errValidation("please enter email or username and password")
	}

	user, lookupErr := s.users.GetVerifiedByIdentifier(ctx, identifier)

	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by identifier").
				Wrap(lookupErr)
		}
		targetHash = dummyPasswordHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, ErrInvalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		return nil, ErrInvalidCredentials()
	}

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	s.logger.Info("user logged in", "user_id", user.ID.String())
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a session token to its verified user.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, oops.Code(CodeTokenInvalid).Errorf("invalid session token")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeTokenInvalid).
				With("user_id", id.String()).
				Errorf("invalid session token")
		}
		return nil, oops.Code("AUTH_AUTHENTICATE_FAILED").
			With("operation", "get user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	if !user.AccountVerified {
		return nil, oops.Code(CodeTokenInvalid).
			With("user_id", id.String()).
			Errorf("invalid session token")
	}
	return user, nil
}

// Logout ends the session of the user carried by ctx. Tokens are stateless,
// so the only effect beyond validation is the cookie cleared by the caller.
func (s *SessionService) Logout(ctx context.Context) error {
	user, ok := UserFromContext(ctx)
	if !ok {
		return ErrUnauthenticated()
	}
	s.logger.Info("user logged out", "user_id", user.ID.String())
	return nil
}

// CurrentUser returns the user carried by ctx.
func (s *SessionService) CurrentUser(ctx context.Context) (*User, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated()
	}
	return user, nil
}

// TokenTTL returns the lifetime of issued session tokens.
func (s *SessionService) TokenTTL() time.Duration {
	return s.tokens.TTL()
}
