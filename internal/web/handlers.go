// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/internal/observability"
	"github.com/bookworm/bookworm/pkg/errutil"
)

// Registrar creates and verifies accounts.
type Registrar interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.User, error)
	VerifyOTP(ctx context.Context, email, otp string) (*auth.Session, error)
}

// SessionManager issues and resolves sessions.
type SessionManager interface {
	Login(ctx context.Context, identifier, password string) (*auth.Session, error)
	Authenticate(ctx context.Context, token string) (*auth.User, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (*auth.User, error)
	TokenTTL() time.Duration
}

// PasswordResetter runs the forgot, reset and change password flows.
type PasswordResetter interface {
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password, confirmPassword string) (*auth.Session, error)
	UpdatePassword(ctx context.Context, currentPassword, newPassword, confirmPassword string) error
}

type handler struct {
	registration Registrar
	sessions     SessionManager
	resets       PasswordResetter
	cookieSecure bool
	metrics      *observability.Metrics
	logger       *slog.Logger

	// maxRegisterBytes caps the register request body. Zero is unlimited.
	maxRegisterBytes int64
}

type verifyOTPRequest struct {
	Email string   `json:"email"`
	OTP   otpValue `json:"otp"`
}

// otpValue accepts the code as a JSON string or number.
type otpValue string

func (v *otpValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = otpValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = otpValue(n.String())
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type updatePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

type sessionResponse struct {
	User  auth.PublicUser `json:"user"`
	Token string          `json:"token"`
}

type registerResponse struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	User     auth.PublicUser `json:"user"`
}

func (h *handler) register(c *gin.Context) {
	memory := int64(defaultMultipartMemory)
	if h.maxRegisterBytes > 0 {
		if c.Request.ContentLength > h.maxRegisterBytes {
			h.fail(c, "register", errAvatarTooLarge(h.maxRegisterBytes))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRegisterBytes)
		memory = h.maxRegisterBytes
	}
	if err := c.Request.ParseMultipartForm(memory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, "register", errAvatarTooLarge(tooLarge.Limit))
			return
		}
		h.fail(c, "register", oops.Code(CodeBadRequest).Errorf("malformed multipart form"))
		return
	}

	in := auth.RegisterInput{
		Username: c.PostForm("username"),
		FullName: c.PostForm("fullName"),
		Email:    c.PostForm("email"),
		Password: c.PostForm("password"),
	}

	fh, err := c.FormFile("avatar")
	switch {
	case err == nil:
		file, openErr := fh.Open()
		if openErr != nil {
			h.fail(c, "register", oops.With("operation", "open avatar part").Wrap(openErr))
			return
		}
		defer func() { _ = file.Close() }()
		in.Avatar = &auth.Avatar{Filename: fh.Filename, Size: fh.Size, Content: file}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// Register reports the missing avatar.
	default:
		h.fail(c, "register", oops.Code(CodeBadRequest).Errorf("malformed multipart form"))
		return
	}

	user, err := h.registration.Register(c.Request.Context(), in)
	if err != nil {
		h.fail(c, "register", err)
		return
	}

	h.record("register", nil)
	public := user.Public()
	writeSuccess(c, http.StatusCreated, "Verification code sent to "+user.Email, registerResponse{
		UserID:   public.ID,
		Username: public.Username,
		User:     public,
	})
}

// defaultMultipartMemory matches gin's default when no avatar limit is set.
const defaultMultipartMemory = 32 << 20

func errAvatarTooLarge(limit int64) error {
	return oops.Code(auth.CodeInvalidAvatar).With("limit", limit).Errorf("avatar is too large")
}

func (h *handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if !h.bind(c, "verify_otp", &req) {
		return
	}
	session, err := h.registration.VerifyOTP(c.Request.Context(), req.Email, string(req.OTP))
	if err != nil {
		h.fail(c, "verify_otp", err)
		return
	}
	h.record("verify_otp", nil)
	h.writeSession(c, http.StatusOK, "Account verified", session)
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, "login", &req) {
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Username
	}
	session, err := h.sessions.Login(c.Request.Context(), identifier, req.Password)
	if err != nil {
		h.fail(c, "login", err)
		return
	}
	h.record("login", nil)
	h.writeSession(c, http.StatusOK, "User logged in successfully", session)
}

func (h *handler) logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context()); err != nil {
		h.fail(c, "logout", err)
		return
	}
	clearSessionCookie(c, h.cookieSecure)
	h.record("logout", nil)
	writeSuccess(c, http.StatusOK, "Logged out successfully", nil)
}

func (h *handler) getUser(c *gin.Context) {
	user, err := h.sessions.CurrentUser(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeSuccess(c, http.StatusOK, "User fetched", gin.H{"user": user.Public()})
}

func (h *handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !h.bind(c, "forgot_password", &req) {
		return
	}
	if err := h.resets.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.fail(c, "forgot_password", err)
		return
	}
	h.record("forgot_password", nil)
	writeSuccess(c, http.StatusOK, "Password reset email sent to "+auth.NormalizeEmail(req.Email), nil)
}

func (h *handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !h.bind(c, "reset_password", &req) {
		return
	}
	session, err := h.resets.ResetPassword(c.Request.Context(), c.Param("token"), req.Password, req.ConfirmPassword)
	if err != nil {
		h.fail(c, "reset_password", err)
		return
	}
	h.record("reset_password", nil)
	h.writeSession(c, http.StatusOK, "Password reset successfully", session)
}

func (h *handler) updatePassword(c *gin.Context) {
	var req updatePasswordRequest
	if !h.bind(c, "update_password", &req) {
		return
	}
	err := h.resets.UpdatePassword(c.Request.Context(), req.CurrentPassword, req.NewPassword, req.ConfirmNewPassword)
	if err != nil {
		h.fail(c, "update_password", err)
		return
	}
	h.record("update_password", nil)
	writeSuccess(c, http.StatusOK, "Password updated", nil)
}

func (h *handler) writeSession(c *gin.Context, status int, message string, session *auth.Session) {
	setSessionCookie(c, session.Token, h.sessions.TokenTTL(), h.cookieSecure)
	writeSuccess(c, status, message, sessionResponse{User: session.User.Public(), Token: session.Token})
}

// bind decodes a JSON body, writing a 400 on failure.
func (h *handler) bind(c *gin.Context, event string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, event, oops.Code(CodeBadRequest).Errorf("request body must be valid JSON"))
		return false
	}
	return true
}

func (h *handler) fail(c *gin.Context, event string, err error) {
	h.record(event, err)
	writeError(c, h.logger, err)
}

func (h *handler) record(event string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := observability.OutcomeOK
	if err != nil {
		outcome = errutil.Code(err)
		if _, known := statusFor(outcome); !known {
			outcome = CodeInternal
		}
	}
	h.metrics.RecordAuthEvent(event, outcome)
}
