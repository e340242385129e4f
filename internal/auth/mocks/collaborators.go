// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bookworm/bookworm/internal/auth"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash provides a mock function.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify provides a mock function.
func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	ret := m.Called(password, hash)
	return ret.Bool(0), ret.Error(1)
}

// MockMailer is a mock of auth.Mailer.
type MockMailer struct {
	mock.Mock
}

// NewMockMailer creates a MockMailer.
func NewMockMailer(t testingT) *MockMailer {
	m := &MockMailer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// SendVerificationCode provides a mock function.
func (m *MockMailer) SendVerificationCode(ctx context.Context, to string, code int, validFor time.Duration) error {
	ret := m.Called(ctx, to, code, validFor)
	return ret.Error(0)
}

// SendPasswordReset provides a mock function.
func (m *MockMailer) SendPasswordReset(ctx context.Context, to, resetURL string, validFor time.Duration) error {
	ret := m.Called(ctx, to, resetURL, validFor)
	return ret.Error(0)
}

// MockAvatarUploader is a mock of auth.AvatarUploader.
type MockAvatarUploader struct {
	mock.Mock
}

// NewMockAvatarUploader creates a MockAvatarUploader.
func NewMockAvatarUploader(t testingT) *MockAvatarUploader {
	m := &MockAvatarUploader{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Upload provides a mock function.
func (m *MockAvatarUploader) Upload(ctx context.Context, avatar auth.Avatar) (string, error) {
	ret := m.Called(ctx, avatar)
	return ret.String(0), ret.Error(1)
}

// Delete provides a mock function.
func (m *MockAvatarUploader) Delete(ctx context.Context, url string) error {
	ret := m.Called(ctx, url)
	return ret.Error(0)
}

var (
	_ auth.PasswordHasher = (*MockPasswordHasher)(nil)
	_ auth.Mailer         = (*MockMailer)(nil)
	_ auth.AvatarUploader = (*MockAvatarUploader)(nil)
)
