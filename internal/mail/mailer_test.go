// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"github.com/bookworm/bookworm/internal/config"
	"github.com/bookworm/bookworm/pkg/errutil"
)

type captureSender struct {
	msgs []*gomail.Msg
	err  error
}

func (s *captureSender) DialAndSendWithContext(_ context.Context, msgs ...*gomail.Msg) error {
	s.msgs = append(s.msgs, msgs...)
	return s.err
}

func testMailConfig() config.MailConfig {
	return config.MailConfig{
		Driver:  "smtp",
		Host:    "smtp.test",
		Port:    587,
		From:    "library@bookworm.test",
		AppName: "BookWorm Library Management System",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRender_Verification(t *testing.T) {
	body, err := render("verification", verificationData{AppName: "BookWorm", Code: 482913, Minutes: 15})
	require.NoError(t, err)

	assert.Contains(t, body.HTML, "482913")
	assert.Contains(t, body.HTML, "valid for 15 minutes")
	assert.Contains(t, body.Text, "482913")
	assert.Contains(t, body.Text, "BookWorm")
}

func TestRender_ResetEscapesURL(t *testing.T) {
	body, err := render("reset", resetData{
		AppName:  "BookWorm",
		ResetURL: `https://library.test/password/reset/abc"><script>`,
		Minutes:  15,
	})
	require.NoError(t, err)

	assert.NotContains(t, body.HTML, "<script>")
	assert.Contains(t, body.HTML, "https://library.test/password/reset/abc")
	assert.Contains(t, body.Text, `https://library.test/password/reset/abc"><script>`)
}

func TestMinutes(t *testing.T) {
	assert.Equal(t, 15, minutes(15*time.Minute))
	assert.Equal(t, 1, minutes(30*time.Second))
	assert.Equal(t, 2, minutes(61*time.Second))
	assert.Equal(t, 0, minutes(0))
}

func TestSMTPMailer_SendVerificationCode(t *testing.T) {
	capture := &captureSender{}
	m := newSMTPMailer(capture, testMailConfig(), discardLogger())

	require.NoError(t, m.SendVerificationCode(context.Background(), "ada@example.com", 482913, 15*time.Minute))
	require.Len(t, capture.msgs, 1)

	msg := capture.msgs[0]
	assert.Equal(t, []string{"Verification code (BookWorm Library Management System)"},
		msg.GetGenHeader(gomail.HeaderSubject))
	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com"}, rcpts)
}

func TestSMTPMailer_SendPasswordReset(t *testing.T) {
	capture := &captureSender{}
	m := newSMTPMailer(capture, testMailConfig(), discardLogger())

	err := m.SendPasswordReset(context.Background(), "ada@example.com", "https://library.test/password/reset/tok", 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, capture.msgs, 1)
	assert.Equal(t, []string{"Password recovery (BookWorm Library Management System)"},
		capture.msgs[0].GetGenHeader(gomail.HeaderSubject))
}

func TestSMTPMailer_Failures(t *testing.T) {
	t.Run("transport error carries no code", func(t *testing.T) {
		capture := &captureSender{err: errors.New("421 service not available")}
		m := newSMTPMailer(capture, testMailConfig(), discardLogger())

		err := m.SendVerificationCode(context.Background(), "ada@example.com", 482913, 15*time.Minute)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "421 service not available")
		assert.Empty(t, errutil.Code(err))
		errutil.AssertErrorContext(t, err, "operation", "send email")
	})

	t.Run("invalid recipient", func(t *testing.T) {
		capture := &captureSender{}
		m := newSMTPMailer(capture, testMailConfig(), discardLogger())

		err := m.SendVerificationCode(context.Background(), "not an address", 482913, 15*time.Minute)
		require.Error(t, err)
		_, isOops := oops.AsOops(err)
		assert.True(t, isOops)
		assert.Empty(t, capture.msgs)
	})
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, m.SendVerificationCode(context.Background(), "ada@example.com", 482913, 15*time.Minute))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ada@example.com", entry["to"])
	assert.InDelta(t, 482913, entry["code"], 0)
	assert.InDelta(t, 15, entry["valid_minutes"], 0)
}

func TestNew(t *testing.T) {
	t.Run("log driver", func(t *testing.T) {
		m, err := New(config.MailConfig{Driver: "log"}, discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &LogMailer{}, m)
	})

	t.Run("smtp driver", func(t *testing.T) {
		m, err := New(testMailConfig(), discardLogger())
		require.NoError(t, err)
		assert.IsType(t, &SMTPMailer{}, m)
	})

	t.Run("smtp without host", func(t *testing.T) {
		cfg := testMailConfig()
		cfg.Host = ""
		m, err := New(cfg, discardLogger())
		require.Error(t, err)
		assert.Nil(t, m)
		errutil.AssertErrorCode(t, err, "MAIL_CONFIG_INVALID")
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := New(config.MailConfig{Driver: "fax"}, discardLogger())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MAIL_CONFIG_INVALID")
	})
}
