// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by repositories when a write would create a second
// verified account for the same username or email.
var ErrConflict = errors.New("conflict")

// ErrInvalidAvatar is returned by avatar uploaders when the supplied file is
// not an accepted image.
var ErrInvalidAvatar = errors.New("invalid avatar")

// Error codes surfaced at the REST boundary.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeInvalidPassword    = "AUTH_INVALID_PASSWORD"
	CodePasswordMismatch   = "AUTH_PASSWORD_MISMATCH"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodeInvalidAvatar      = "AUTH_INVALID_AVATAR"
	CodeAccountExists      = "AUTH_ACCOUNT_EXISTS"
	CodeTooManyAttempts    = "AUTH_TOO_MANY_ATTEMPTS"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeTokenInvalid       = "AUTH_TOKEN_INVALID"
	CodeTokenExpired       = "AUTH_TOKEN_EXPIRED"
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
	CodeOTPInvalid         = "AUTH_OTP_INVALID"
	CodeOTPExpired         = "AUTH_OTP_EXPIRED"
	CodeResetTokenInvalid  = "AUTH_RESET_TOKEN_INVALID"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeAvatarUploadFailed = "AUTH_AVATAR_UPLOAD_FAILED"
	CodeEmailFailed        = "AUTH_EMAIL_FAILED"
)

// ErrInvalidCredentials is the single failure returned by login for unknown
// identities, unverified accounts and wrong passwords alike.
func ErrInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email, username or password")
}

// ErrUnauthenticated is returned when an operation requires a principal and none is present.
func ErrUnauthenticated() error {
	return oops.Code(CodeUnauthenticated).Errorf("user is not authenticated")
}

// ErrUserNotFound is returned when no account matches a lookup that must succeed.
func ErrUserNotFound() error {
	return oops.Code(CodeUserNotFound).Errorf("user not found")
}

func errValidation(format string, args ...any) error {
	return oops.Code(CodeValidation).Errorf(format, args...)
}
