// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

// Package postgres provides PostgreSQL implementations of the auth repositories.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/bookworm/bookworm/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool used by the repository.
// pgxmock.PgxPoolIface satisfies it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const userColumns = `id, username, full_name, email, password_hash, role,
		       account_verified, avatar_url, verification_code, verification_code_expire,
		       reset_password_token, reset_password_expire, borrowed_books,
		       created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	booksJSON, err := marshalBooks(user.BorrowedBooks)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "marshal borrowed books").
			Wrap(err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (
			id, username, full_name, email, password_hash, role,
			account_verified, avatar_url, verification_code, verification_code_expire,
			reset_password_token, reset_password_expire, borrowed_books,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		user.ID.String(),
		user.Username,
		user.FullName,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.AccountVerified,
		user.Avatar,
		user.VerificationCode,
		user.VerificationCodeExpire,
		user.ResetPasswordToken,
		user.ResetPasswordExpire,
		booksJSON,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_CONFLICT").
				With("username", user.Username).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetVerifiedByIdentifier retrieves a verified user by email or username (case-insensitive).
func (r *UserRepository) GetVerifiedByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE account_verified
		  AND (LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($1))
		LIMIT 1
	`, identifier)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("identifier", identifier).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_IDENTIFIER_FAILED").
			With("operation", "get verified user by identifier").
			With("identifier", identifier).
			Wrap(err)
	}
	return user, nil
}

// GetVerifiedByEmail retrieves a verified user by email (case-insensitive).
func (r *UserRepository) GetVerifiedByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE account_verified AND LOWER(email) = LOWER($1)
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get verified user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// VerifiedExists reports whether a verified user holds username or email.
func (r *UserRepository) VerifiedExists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE account_verified
			  AND (LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2))
		)
	`, username, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_EXISTS_CHECK_FAILED").
			With("operation", "check verified user exists").
			With("username", username).
			Wrap(err)
	}
	return exists, nil
}

// CountPending counts unverified users matching username or email.
func (r *UserRepository) CountPending(ctx context.Context, username, email string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM users
		WHERE NOT account_verified
		  AND (LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2))
	`, username, email).Scan(&count)
	if err != nil {
		return 0, oops.Code("USER_COUNT_PENDING_FAILED").
			With("operation", "count pending users").
			With("username", username).
			Wrap(err)
	}
	return count, nil
}

// ListPendingByEmail returns unverified users for email, newest first.
func (r *UserRepository) ListPendingByEmail(ctx context.Context, email string) ([]*auth.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE NOT account_verified AND LOWER(email) = LOWER($1)
		ORDER BY created_at DESC, id DESC
	`, email)
	if err != nil {
		return nil, oops.Code("USER_LIST_PENDING_FAILED").
			With("operation", "list pending users").
			With("email", email).
			Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_LIST_PENDING_FAILED").
				With("operation", "scan pending user").
				Wrap(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_PENDING_FAILED").
			With("operation", "iterate pending users").
			Wrap(err)
	}
	return users, nil
}

// CompleteVerification marks user verified and purges its sibling pending
// registrations in one transaction.
func (r *UserRepository) CompleteVerification(ctx context.Context, user *auth.User) (int64, error) {
	var purged int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE users SET
				account_verified = TRUE,
				verification_code = NULL,
				verification_code_expire = NULL,
				updated_at = $2
			WHERE id = $1 AND NOT account_verified
		`, user.ID.String(), user.UpdatedAt)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return auth.ErrNotFound
		}

		result, err = tx.Exec(ctx, `
			DELETE FROM users
			WHERE NOT account_verified AND LOWER(email) = LOWER($1) AND id <> $2
		`, user.Email, user.ID.String())
		if err != nil {
			return err
		}
		purged = result.RowsAffected()
		return nil
	})
	switch {
	case err == nil:
		return purged, nil
	case isUniqueViolation(err):
		return 0, oops.Code("USER_CONFLICT").
			With("id", user.ID.String()).
			Wrap(auth.ErrConflict)
	case errors.Is(err, auth.ErrNotFound):
		return 0, oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	default:
		return 0, oops.Code("USER_VERIFY_FAILED").
			With("operation", "complete verification").
			With("id", user.ID.String()).
			Wrap(err)
	}
}

// GetByResetTokenHash retrieves the user whose reset window for tokenHash is open at now.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_password_token = $1 AND reset_password_expire > $2
	`, tokenHash, now)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get user by reset token").
			Wrap(err)
	}
	return user, nil
}

// SetResetToken opens a reset window for the user keyed by tokenHash,
// replacing any previous window.
func (r *UserRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			reset_password_token = $2,
			reset_password_expire = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt)
	if err != nil {
		return oops.Code("USER_SET_RESET_TOKEN_FAILED").
			With("operation", "set reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ClearResetToken closes the reset window of the user if it is still keyed by
// tokenHash. A window that was consumed or replaced meanwhile is left alone.
func (r *UserRepository) ClearResetToken(ctx context.Context, id ulid.ULID, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET
			reset_password_token = NULL,
			reset_password_expire = NULL,
			updated_at = NOW()
		WHERE id = $1 AND reset_password_token = $2
	`, id.String(), tokenHash)
	if err != nil {
		return oops.Code("USER_CLEAR_RESET_TOKEN_FAILED").
			With("operation", "clear reset token").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// ConsumeResetToken stores passwordHash for the user whose reset window for
// tokenHash is open at now and closes the window in the same statement.
// Of several concurrent calls with one token, only one finds the row.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET
			password_hash = $3,
			reset_password_token = NULL,
			reset_password_expire = NULL,
			updated_at = $2
		WHERE reset_password_token = $1 AND reset_password_expire > $2
		RETURNING `+userColumns,
		tokenHash, now, passwordHash)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_CONSUME_RESET_TOKEN_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return user, nil
}

// UpdatePasswordHash replaces the stored password digest of the user.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET
			password_hash = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func marshalBooks(books []auth.BorrowedBook) ([]byte, error) {
	if books == nil {
		books = []auth.BorrowedBook{}
	}
	return json.Marshal(books)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		role      string
		booksJSON []byte
		user      auth.User
	)

	err := row.Scan(
		&idStr,
		&user.Username,
		&user.FullName,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.AccountVerified,
		&user.Avatar,
		&user.VerificationCode,
		&user.VerificationCodeExpire,
		&user.ResetPasswordToken,
		&user.ResetPasswordExpire,
		&booksJSON,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse user id").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.Role = auth.Role(role)

	if len(booksJSON) > 0 {
		if err := json.Unmarshal(booksJSON, &user.BorrowedBooks); err != nil {
			return nil, oops.With("operation", "unmarshal borrowed books").With("id", idStr).Wrap(err)
		}
	}
	return &user, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
