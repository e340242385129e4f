// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	DefaultSessionTTL   = 48 * time.Hour
	MinTokenSecretBytes = 32
	tokenIssuer         = "bookworm"
)

// SessionClaims is the payload of a signed session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// TokenIssuer signs and verifies session tokens with a shared HMAC secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithClock overrides the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(i *TokenIssuer) {
		i.now = now
	}
}

// NewTokenIssuer creates a TokenIssuer. The secret must be at least
// MinTokenSecretBytes long and ttl must be positive.
func NewTokenIssuer(secret string, ttl time.Duration, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) < MinTokenSecretBytes {
		return nil, oops.Code("AUTH_TOKEN_CONFIG_INVALID").
			With("min_bytes", MinTokenSecretBytes).
			Errorf("token secret must be at least %d bytes", MinTokenSecretBytes)
	}
	if ttl <= 0 {
		return nil, oops.Code("AUTH_TOKEN_CONFIG_INVALID").
			With("ttl", ttl.String()).
			Errorf("token ttl must be positive")
	}
	i := &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token identifying user. Returns the token and its expiry.
func (i *TokenIssuer) Issue(user *User) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:   user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of token and returns its claims.
func (i *TokenIssuer) Verify(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, oops.Code(CodeTokenInvalid).Errorf("session token is missing")
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).Errorf("session token has expired")
		}
		return nil, oops.Code(CodeTokenInvalid).Errorf("invalid session token")
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, oops.Code(CodeTokenInvalid).Errorf("invalid session token")
	}
	return claims, nil
}
