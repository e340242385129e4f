// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package auth

import (
	"context"
	"io"
	"time"
)

// Avatar is an uploaded profile image as received from the client.
type Avatar struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// AvatarUploader stores avatar images and returns their public URL.
// Implementations return an error wrapping ErrInvalidAvatar for files that
// are not acceptable images.
type AvatarUploader interface {
	Upload(ctx context.Context, avatar Avatar) (string, error)

	// Delete removes an avatar previously returned by Upload.
	Delete(ctx context.Context, url string) error
}

// Mailer delivers account e-mails.
type Mailer interface {
	// SendVerificationCode mails a one-time registration code.
	SendVerificationCode(ctx context.Context, to string, code int, validFor time.Duration) error

	// SendPasswordReset mails a link that opens the password reset form.
	SendPasswordReset(ctx context.Context, to, resetURL string, validFor time.Duration) error
}
