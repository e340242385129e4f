// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

// Package mocks provides testify mocks of the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/bookworm/bookworm/internal/auth"
)

// MockUserRepository is a mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a MockUserRepository whose expectations are
// asserted when the test ends.
func NewMockUserRepository(t testingT) *MockUserRepository {
	m := &MockUserRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func userOrNil(v any) *auth.User {
	if v == nil {
		return nil
	}
	return v.(*auth.User)
}

// Create provides a mock function.
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	ret := m.Called(ctx, user)
	return ret.Error(0)
}

// GetByID provides a mock function.
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	ret := m.Called(ctx, id)
	return userOrNil(ret.Get(0)), ret.Error(1)
}

// GetVerifiedByIdentifier provides a mock function.
func (m *MockUserRepository) GetVerifiedByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	ret := m.Called(ctx, identifier)
	return userOrNil(ret.Get(0)), ret.Error(1)
}

// GetVerifiedByEmail provides a mock function.
func (m *MockUserRepository) GetVerifiedByEmail(ctx context.Context, email string) (*auth.User, error) {
	ret := m.Called(ctx, email)
	return userOrNil(ret.Get(0)), ret.Error(1)
}

// VerifiedExists provides a mock function.
func (m *MockUserRepository) VerifiedExists(ctx context.Context, username, email string) (bool, error) {
	ret := m.Called(ctx, username, email)
	return ret.Bool(0), ret.Error(1)
}

// CountPending provides a mock function.
func (m *MockUserRepository) CountPending(ctx context.Context, username, email string) (int, error) {
	ret := m.Called(ctx, username, email)
	return ret.Int(0), ret.Error(1)
}

// ListPendingByEmail provides a mock function.
func (m *MockUserRepository) ListPendingByEmail(ctx context.Context, email string) ([]*auth.User, error) {
	ret := m.Called(ctx, email)
	var users []*auth.User
	if v := ret.Get(0); v != nil {
		users = v.([]*auth.User)
	}
	return users, ret.Error(1)
}

// CompleteVerification provides a mock function.
func (m *MockUserRepository) CompleteVerification(ctx context.Context, user *auth.User) (int64, error) {
	ret := m.Called(ctx, user)
	return ret.Get(0).(int64), ret.Error(1)
}

// GetByResetTokenHash provides a mock function.
func (m *MockUserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	ret := m.Called(ctx, tokenHash, now)
	return userOrNil(ret.Get(0)), ret.Error(1)
}

// SetResetToken provides a mock function.
func (m *MockUserRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	ret := m.Called(ctx, id, tokenHash, expiresAt)
	return ret.Error(0)
}

// ClearResetToken provides a mock function.
func (m *MockUserRepository) ClearResetToken(ctx context.Context, id ulid.ULID, tokenHash string) error {
	ret := m.Called(ctx, id, tokenHash)
	return ret.Error(0)
}

// ConsumeResetToken provides a mock function.
func (m *MockUserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*auth.User, error) {
	ret := m.Called(ctx, tokenHash, now, passwordHash)
	return userOrNil(ret.Get(0)), ret.Error(1)
}

// UpdatePasswordHash provides a mock function.
func (m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	ret := m.Called(ctx, id, passwordHash)
	return ret.Error(0)
}

var _ auth.UserRepository = (*MockUserRepository)(nil)
