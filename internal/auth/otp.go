// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package auth

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// One-time verification code configuration.
const (
	OTPMin        = 100000
	OTPMax        = 999999
	DefaultOTPTTL = 15 * time.Minute
)

// GenerateOTP returns a uniformly random six digit code.
func GenerateOTP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(OTPMax-OTPMin+1))
	if err != nil {
		return 0, oops.Code("AUTH_OTP_GENERATE_FAILED").Wrap(err)
	}
	return OTPMin + int(n.Int64()), nil
}

// ParseOTP converts client input into a code. Non-numeric input is reported
// as an invalid code rather than a validation error.
func ParseOTP(raw string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || code < OTPMin || code > OTPMax {
		return 0, oops.Code(CodeOTPInvalid).Errorf("invalid OTP")
	}
	return code, nil
}

// CheckVerificationCode compares code against the pending code. The code is
// expired once now reaches the stored expiry.
func (u *User) CheckVerificationCode(code int, now time.Time) error {
	if u.VerificationCode == nil || *u.VerificationCode != code {
		return oops.Code(CodeOTPInvalid).Errorf("invalid OTP")
	}
	if u.VerificationCodeExpire == nil || !now.Before(*u.VerificationCodeExpire) {
		return oops.Code(CodeOTPExpired).Errorf("OTP expired")
	}
	return nil
}
