// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

// Package avatar stores profile images in an S3-compatible bucket.
package avatar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/internal/config"
)

const uploadTimeout = 30 * time.Second

// allowedTypes maps accepted MIME types to the extension used in object keys.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// objectAPI is the subset of *s3.Client used by the uploader.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Uploader implements auth.AvatarUploader on top of S3.
type S3Uploader struct {
	client   objectAPI
	bucket   string
	baseURL  string
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger
}

// NewS3Uploader builds an uploader from cfg. Static credentials are used when
// an access key is configured; otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg config.AvatarConfig, logger *slog.Logger) (*S3Uploader, error) {
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if cfg.Bucket == "" {
		return nil, oops.Code("AVATAR_CONFIG_INVALID").Errorf("avatar bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.Code("AVATAR_CONFIG_INVALID").With("region", cfg.Region).Wrap(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(client, cfg, logger), nil
}

func newS3Uploader(client objectAPI, cfg config.AvatarConfig, logger *slog.Logger) *S3Uploader {
	return &S3Uploader{
		client:   client,
		bucket:   cfg.Bucket,
		baseURL:  publicBaseURL(cfg),
		maxBytes: cfg.MaxBytes,
		now:      time.Now,
		logger:   logger,
	}
}

// publicBaseURL is where uploaded objects can be fetched from.
func publicBaseURL(cfg config.AvatarConfig) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// Upload validates the image and stores it under a date-partitioned key.
// Oversized, empty and non-image files yield an error wrapping auth.ErrInvalidAvatar.
func (u *S3Uploader) Upload(ctx context.Context, a auth.Avatar) (string, error) {
	if a.Content == nil {
		return "", oops.With("filename", a.Filename).Wrap(auth.ErrInvalidAvatar)
	}
	if u.maxBytes > 0 && a.Size > u.maxBytes {
		return "", oops.With("filename", a.Filename).With("size", a.Size).With("max_bytes", u.maxBytes).
			Wrapf(auth.ErrInvalidAvatar, "avatar exceeds %d bytes", u.maxBytes)
	}

	data, err := u.read(a.Content)
	if err != nil {
		return "", oops.With("filename", a.Filename).Wrap(err)
	}
	if len(data) == 0 {
		return "", oops.With("filename", a.Filename).Wrapf(auth.ErrInvalidAvatar, "avatar is empty")
	}

	mtype := mimetype.Detect(data)
	ext, ok := allowedTypes[mtype.String()]
	if !ok {
		return "", oops.With("filename", a.Filename).With("mime", mtype.String()).
			Wrapf(auth.ErrInvalidAvatar, "unsupported avatar type %s", mtype.String())
	}

	key := u.objectKey(ext)
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mtype.String()),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", oops.With("operation", "put avatar").With("bucket", u.bucket).With("key", key).Wrap(err)
	}

	u.logger.DebugContext(ctx, "avatar stored", "key", key, "bytes", len(data), "mime", mtype.String())
	return u.baseURL + "/" + key, nil
}

// Delete removes an avatar previously returned by Upload. URLs outside the
// uploader's public base are rejected.
func (u *S3Uploader) Delete(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, u.baseURL+"/")
	if !ok || key == "" {
		return oops.Code("AVATAR_DELETE_FAILED").With("url", url).Errorf("url is not an avatar of this bucket")
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	if _, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return oops.Code("AVATAR_DELETE_FAILED").With("bucket", u.bucket).With("key", key).Wrap(err)
	}
	u.logger.DebugContext(ctx, "avatar deleted", "key", key)
	return nil
}

// read drains r, failing with ErrInvalidAvatar once maxBytes is exceeded.
func (u *S3Uploader) read(r io.Reader) ([]byte, error) {
	if u.maxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, oops.With("operation", "read avatar").Wrap(err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return nil, oops.With("operation", "read avatar").Wrap(err)
	}
	if int64(len(data)) > u.maxBytes {
		return nil, oops.With("max_bytes", u.maxBytes).Wrapf(auth.ErrInvalidAvatar, "avatar exceeds %d bytes", u.maxBytes)
	}
	return data, nil
}

func (u *S3Uploader) objectKey(ext string) string {
	d := u.now().UTC()
	return fmt.Sprintf("avatars/%04d/%02d/%02d/%s%s", d.Year(), d.Month(), d.Day(), ulid.Make().String(), ext)
}

var _ auth.AvatarUploader = (*S3Uploader)(nil)
