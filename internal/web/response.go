// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package web

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bookworm/bookworm/internal/auth"
	"github.com/bookworm/bookworm/pkg/errutil"
)

// Codes produced by the web layer itself.
const (
	CodeInternal    = "INTERNAL_ERROR"
	CodeRateLimited = "RATE_LIMITED"
	CodeBadRequest  = "BAD_REQUEST"
	CodeNotFound    = "NOT_FOUND"
)

type successEnvelope struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// statusByCode is the only place error codes are mapped to HTTP statuses.
var statusByCode = map[string]int{
	auth.CodeValidation:       http.StatusBadRequest,
	auth.CodeInvalidPassword:  http.StatusBadRequest,
	auth.CodePasswordMismatch: http.StatusBadRequest,
	auth.CodeEmptyPassword:    http.StatusBadRequest,
	auth.CodeInvalidAvatar:    http.StatusBadRequest,
	CodeBadRequest:            http.StatusBadRequest,

	auth.CodeAccountExists: http.StatusConflict,

	auth.CodeTooManyAttempts: http.StatusTooManyRequests,
	CodeRateLimited:          http.StatusTooManyRequests,

	auth.CodeInvalidCredentials: http.StatusUnauthorized,
	auth.CodeTokenInvalid:       http.StatusUnauthorized,
	auth.CodeTokenExpired:       http.StatusUnauthorized,
	auth.CodeUnauthenticated:    http.StatusUnauthorized,

	auth.CodeOTPInvalid:        http.StatusBadRequest,
	auth.CodeOTPExpired:        http.StatusBadRequest,
	auth.CodeResetTokenInvalid: http.StatusBadRequest,

	auth.CodeUserNotFound: http.StatusNotFound,
	CodeNotFound:          http.StatusNotFound,

	auth.CodeAvatarUploadFailed: http.StatusInternalServerError,
	auth.CodeEmailFailed:        http.StatusInternalServerError,
}

// statusFor returns the HTTP status for an error code and whether the code is known.
func statusFor(code string) (int, bool) {
	status, ok := statusByCode[code]
	return status, ok
}

func writeSuccess(c *gin.Context, status int, message string, data any) {
	c.JSON(status, successEnvelope{Success: true, StatusCode: status, Message: message, Data: data})
}

// writeError converts err into the error envelope. Unknown codes become a
// generic 500; every 5xx is logged with its oops context.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	code := errutil.Code(err)
	status, known := statusFor(code)
	if !known {
		status = http.StatusInternalServerError
		code = CodeInternal
	}
	message := publicMessage(status, code, err)
	if status >= http.StatusInternalServerError {
		errutil.LogError(c.Request.Context(), logger, "request failed", err, "route", c.FullPath())
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorEnvelope{Success: false, StatusCode: status, Code: code, Message: message})
}

// dependencyMessages replace 5xx error text, which may carry upstream details.
var dependencyMessages = map[string]string{
	auth.CodeAvatarUploadFailed: "failed to upload avatar",
	auth.CodeEmailFailed:        "failed to send email",
}

// publicMessage is the text shown to clients. Client errors carry their own
// message; server errors get a fixed one.
func publicMessage(status int, code string, err error) string {
	if status < http.StatusInternalServerError {
		return err.Error()
	}
	if msg, ok := dependencyMessages[code]; ok {
		return msg
	}
	return "internal server error"
}
