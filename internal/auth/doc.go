// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

// Package auth provides the account lifecycle of BookWorm: registration with
// e-mailed verification codes, login with signed session tokens, and
// password reset and change.
//
// # Domain Types
//
// Users should be created with NewUser, which normalizes the identity fields.
// The password digest is only ever set through User.SetPassword, which
// enforces the length bounds and hashes synchronously. Repository
// implementations persist the digest verbatim and never hash.
//
// # Services
//
// Service types coordinate domain operations:
//   - RegistrationService - register, verify OTP
//   - SessionService - login, logout, token authentication, current user
//   - PasswordResetService - forgot, reset and update password
//
// Services are created with New*Service constructors that validate dependencies.
//
// # Errors
//
// Failures carry stable oops codes (Code* constants) that the REST layer
// maps to HTTP statuses.
package auth
