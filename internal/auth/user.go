// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package auth

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Password length constraints, counted in characters.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 16
)

// Role is the authorization role of an account.
type Role string

// Known roles.
const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// BorrowedBook records a loan against an account.
type BorrowedBook struct {
	BookID       string    `json:"bookId"`
	BorrowedDate time.Time `json:"borrowedDate"`
	DueDate      time.Time `json:"dueDate"`
	Returned     bool      `json:"returned"`
}

// User is a single identity attempt. Several unverified rows may share a
// username or email; at most one verified row may.
type User struct {
	ID                     ulid.ULID
	Username               string
	FullName               string
	Email                  string
	PasswordHash           string
	Role                   Role
	AccountVerified        bool
	Avatar                 string
	VerificationCode       *int
	VerificationCodeExpire *time.Time
	ResetPasswordToken     *string
	ResetPasswordExpire    *time.Time
	BorrowedBooks          []BorrowedBook
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// PublicUser is the externally visible projection of a User.
type PublicUser struct {
	ID              string         `json:"id"`
	Username        string         `json:"username"`
	FullName        string         `json:"fullName"`
	Email           string         `json:"email"`
	Role            Role           `json:"role"`
	Avatar          string         `json:"avatar"`
	AccountVerified bool           `json:"accountVerified"`
	BorrowedBooks   []BorrowedBook `json:"borrowedBooks"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// NewUser creates an unverified user with normalized identity fields.
// The password must be set separately through SetPassword.
func NewUser(username, fullName, email, avatarURL string) (*User, error) {
	username = strings.TrimSpace(username)
	fullName = strings.TrimSpace(fullName)
	email = NormalizeEmail(email)

	if username == "" || fullName == "" || email == "" {
		return nil, errValidation("username, full name and email are required")
	}
	if avatarURL == "" {
		return nil, errValidation("avatar is required")
	}

	now := time.Now()
	return &User{
		ID:            ulid.Make(),
		Username:      username,
		FullName:      fullName,
		Email:         email,
		Role:          RoleUser,
		Avatar:        avatarURL,
		BorrowedBooks: []BorrowedBook{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePassword checks the password length bounds.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("min", MinPasswordLength).
			With("max", MaxPasswordLength).
			Errorf("password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

// SetPassword validates and hashes password and stores the digest.
// It is the only way a new digest is produced; repositories persist it verbatim.
func (u *User) SetPassword(hasher PasswordHasher, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	digest, err := hasher.Hash(password)
	if err != nil {
		return oops.Code("AUTH_SET_PASSWORD_FAILED").
			With("user_id", u.ID.String()).
			Wrap(err)
	}
	u.PasswordHash = digest
	u.UpdatedAt = time.Now()
	return nil
}

// SetVerificationCode attaches a pending one-time code to the user.
func (u *User) SetVerificationCode(code int, expiresAt time.Time) {
	u.VerificationCode = &code
	u.VerificationCodeExpire = &expiresAt
	u.UpdatedAt = time.Now()
}

// MarkVerified flips the account to verified and clears the pending code.
func (u *User) MarkVerified() {
	u.AccountVerified = true
	u.VerificationCode = nil
	u.VerificationCodeExpire = nil
	u.UpdatedAt = time.Now()
}

// SetResetToken opens a password reset window keyed by the token digest.
func (u *User) SetResetToken(tokenHash string, expiresAt time.Time) {
	u.ResetPasswordToken = &tokenHash
	u.ResetPasswordExpire = &expiresAt
	u.UpdatedAt = time.Now()
}

// ClearResetToken closes any open password reset window.
func (u *User) ClearResetToken() {
	u.ResetPasswordToken = nil
	u.ResetPasswordExpire = nil
	u.UpdatedAt = time.Now()
}

// Public returns the projection safe to hand to clients.
func (u *User) Public() PublicUser {
	books := u.BorrowedBooks
	if books == nil {
		books = []BorrowedBook{}
	}
	return PublicUser{
		ID:              u.ID.String(),
		Username:        u.Username,
		FullName:        u.FullName,
		Email:           u.Email,
		Role:            u.Role,
		Avatar:          u.Avatar,
		AccountVerified: u.AccountVerified,
		BorrowedBooks:   books,
		CreatedAt:       u.CreatedAt,
	}
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetVerifiedByIdentifier retrieves the verified user whose email or
	// username matches identifier (case-insensitive).
	GetVerifiedByIdentifier(ctx context.Context, identifier string) (*User, error)

	// GetVerifiedByEmail retrieves the verified user with the given email.
	GetVerifiedByEmail(ctx context.Context, email string) (*User, error)

	// VerifiedExists reports whether a verified user holds username or email.
	VerifiedExists(ctx context.Context, username, email string) (bool, error)

	// CountPending counts unverified users matching username or email.
	CountPending(ctx context.Context, username, email string) (int, error)

	// ListPendingByEmail returns unverified users for email, newest first.
	ListPendingByEmail(ctx context.Context, email string) ([]*User, error)

	// CompleteVerification persists the verified user and deletes every other
	// unverified user with the same email atomically. Returns the number of
	// deleted rows. Returns ErrConflict if the username or email is already
	// held by another verified user.
	CompleteVerification(ctx context.Context, user *User) (int64, error)

	// GetByResetTokenHash retrieves the user whose reset token digest matches
	// and whose reset window is still open at now.
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*User, error)

	// SetResetToken opens a reset window keyed by tokenHash.
	SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// ClearResetToken closes the reset window only while it is still keyed
	// by tokenHash.
	ClearResetToken(ctx context.Context, id ulid.ULID, tokenHash string) error

	// ConsumeResetToken atomically stores passwordHash and closes the reset
	// window for tokenHash if it is open at now. Returns ErrNotFound when no
	// open window matches, including when another call consumed it first.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*User, error)

	// UpdatePasswordHash replaces the stored password digest.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error
}
