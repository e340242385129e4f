// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/bookworm/bookworm/internal/web"
)

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

type sessionData struct {
	Token string `json:"token"`
	User  struct {
		ID              string `json:"id"`
		Username        string `json:"username"`
		Email           string `json:"email"`
		Avatar          string `json:"avatar"`
		AccountVerified bool   `json:"accountVerified"`
	} `json:"user"`
}

// apiClient is a browser-like client that keeps the session cookie.
type apiClient struct {
	http *http.Client
}

func newClient() *apiClient {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &apiClient{http: &http.Client{Jar: jar}}
}

func (c *apiClient) do(req *http.Request) (int, envelope) {
	resp, err := c.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var env envelope
	Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
	Expect(env.StatusCode).To(Equal(resp.StatusCode))
	return resp.StatusCode, env
}

func (c *apiClient) send(method, path string, body any) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+web.BasePath+path, &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *apiClient) register(username, email, password string) (int, envelope) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"username": username,
		"fullName": "Test Reader",
		"email":    email,
		"password": password,
	} {
		Expect(w.WriteField(k, v)).To(Succeed())
	}
	part, err := w.CreateFormFile("avatar", username+".png")
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n"))
	Expect(err).NotTo(HaveOccurred())
	Expect(w.Close()).To(Succeed())

	req, err := http.NewRequestWithContext(env.ctx, http.MethodPost, env.server.URL+web.BasePath+"/register", &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

func (c *apiClient) verify(email string) sessionData {
	code, ok := env.mail.code(email)
	Expect(ok).To(BeTrue(), "no verification code mailed to %s", email)
	status, resp := c.send(http.MethodPost, "/verify-otp", map[string]any{"email": email, "otp": code})
	Expect(status).To(Equal(http.StatusOK), resp.Message)
	var data sessionData
	Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
	return data
}

func countUsers(email string) int {
	var n int
	err := env.pool.QueryRow(env.ctx, `SELECT count(*) FROM users WHERE email = $1`, email).Scan(&n)
	Expect(err).NotTo(HaveOccurred())
	return n
}

var _ = Describe("Account lifecycle", func() {
	const password = "Secret123!"

	Describe("registration and verification", func() {
		It("creates a pending account that can sign in only after verification", func() {
			c := newClient()
			email := "ada@bookworm.test"

			status, resp := c.register("ada", "  ADA@bookworm.test ", password)
			Expect(status).To(Equal(http.StatusCreated), resp.Message)
			Expect(resp.Message).To(Equal("Verification code sent to " + email))

			status, resp = c.send(http.MethodPost, "/login", map[string]string{"email": email, "password": password})
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(resp.Success).To(BeFalse())

			code, _ := env.mail.code(email)
			wrong := code + 1
			if wrong > 999999 {
				wrong = 100000
			}
			status, resp = c.send(http.MethodPost, "/verify-otp", map[string]any{"email": email, "otp": wrong})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(resp.Code).To(Equal("AUTH_OTP_INVALID"))

			session := c.verify(email)
			Expect(session.Token).NotTo(BeEmpty())
			Expect(session.User.AccountVerified).To(BeTrue())
			Expect(session.User.Avatar).To(Equal("https://cdn.bookworm.test/avatars/ada.png"))

			status, resp = c.send(http.MethodGet, "/get-user", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(resp.Data)).To(ContainSubstring(`"username":"ada"`))
			Expect(string(resp.Data)).NotTo(ContainSubstring("password"))
		})

		It("rejects a second verified account with the same email", func() {
			c := newClient()
			status, _ := c.register("grace", "grace@bookworm.test", password)
			Expect(status).To(Equal(http.StatusCreated))
			c.verify("grace@bookworm.test")

			status, resp := c.register("grace2", "grace@bookworm.test", password)
			Expect(status).To(Equal(http.StatusConflict))
			Expect(resp.Code).To(Equal("AUTH_ACCOUNT_EXISTS"))
		})

		It("keeps only the newest pending registration once verified", func() {
			c := newClient()
			email := "linus@bookworm.test"
			for i := range 3 {
				status, resp := c.register(fmt.Sprintf("linus%d", i), email, password)
				Expect(status).To(Equal(http.StatusCreated), resp.Message)
			}
			Expect(countUsers(email)).To(Equal(3))

			session := c.verify(email)
			Expect(session.User.Username).To(Equal("linus2"))
			Expect(countUsers(email)).To(Equal(1))
		})

		It("caps pending registrations per identity", func() {
			c := newClient()
			email := "spam@bookworm.test"
			for i := range 5 {
				status, resp := c.register("spammer", email, password)
				Expect(status).To(Equal(http.StatusCreated), "attempt %d: %s", i+1, resp.Message)
			}
			status, resp := c.register("spammer", email, password)
			Expect(status).To(Equal(http.StatusTooManyRequests))
			Expect(resp.Code).To(Equal("AUTH_TOO_MANY_ATTEMPTS"))
		})
	})

	Describe("sessions", func() {
		var c *apiClient

		BeforeEach(func() {
			c = newClient()
			email := "margaret@bookworm.test"
			if countUsers(email) == 0 {
				status, _ := c.register("margaret", email, password)
				Expect(status).To(Equal(http.StatusCreated))
				c.verify(email)
			}
		})

		It("logs in by username and out again", func() {
			status, resp := c.send(http.MethodPost, "/login", map[string]string{"username": "margaret", "password": password})
			Expect(status).To(Equal(http.StatusOK), resp.Message)

			status, _ = c.send(http.MethodGet, "/get-user", nil)
			Expect(status).To(Equal(http.StatusOK))

			status, resp = c.send(http.MethodPost, "/logout", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Message).To(Equal("Logged out successfully"))

			status, _ = c.send(http.MethodGet, "/get-user", nil)
			Expect(status).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the token as a bearer header", func() {
			status, resp := c.send(http.MethodPost, "/login", map[string]string{"email": "margaret@bookworm.test", "password": password})
			Expect(status).To(Equal(http.StatusOK))
			var data sessionData
			Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())

			req, err := http.NewRequestWithContext(env.ctx, http.MethodGet, env.server.URL+web.BasePath+"/get-user", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer "+data.Token)
			status, _ = (&apiClient{http: http.DefaultClient}).do(req)
			Expect(status).To(Equal(http.StatusOK))
		})
	})

	Describe("password management", func() {
		It("updates the password of the signed-in user", func() {
			c := newClient()
			email := "barbara@bookworm.test"
			status, _ := c.register("barbara", email, password)
			Expect(status).To(Equal(http.StatusCreated))
			c.verify(email)

			status, resp := c.send(http.MethodPut, "/update-password", map[string]string{
				"currentPassword":    "WrongPass1!",
				"newPassword":        "NewSecret1!",
				"confirmNewPassword": "NewSecret1!",
			})
			Expect(status).To(Equal(http.StatusUnauthorized), resp.Code)

			status, resp = c.send(http.MethodPut, "/update-password", map[string]string{
				"currentPassword":    password,
				"newPassword":        "NewSecret1!",
				"confirmNewPassword": "NewSecret1!",
			})
			Expect(status).To(Equal(http.StatusOK), resp.Message)

			fresh := newClient()
			status, _ = fresh.send(http.MethodPost, "/login", map[string]string{"email": email, "password": password})
			Expect(status).To(Equal(http.StatusUnauthorized))
			status, _ = fresh.send(http.MethodPost, "/login", map[string]string{"email": email, "password": "NewSecret1!"})
			Expect(status).To(Equal(http.StatusOK))
		})

		It("resets a forgotten password with a single-use mailed token", func() {
			c := newClient()
			email := "edsger@bookworm.test"
			status, _ := c.register("edsger", email, password)
			Expect(status).To(Equal(http.StatusCreated))
			c.verify(email)

			status, resp := c.send(http.MethodPost, "/forgot-password", map[string]string{"email": "unknown@bookworm.test"})
			Expect(status).To(Equal(http.StatusNotFound), resp.Message)

			status, resp = c.send(http.MethodPost, "/forgot-password", map[string]string{"email": email})
			Expect(status).To(Equal(http.StatusOK), resp.Message)

			resetURL, ok := env.mail.resetURL(email)
			Expect(ok).To(BeTrue())
			Expect(resetURL).To(HavePrefix(frontendURL + "/password/reset/"))
			token := resetURL[strings.LastIndex(resetURL, "/")+1:]

			status, resp = c.send(http.MethodPost, "/reset-password/"+token, map[string]string{
				"password": "Reset1234!", "confirmPassword": "Mismatch1!",
			})
			Expect(status).To(Equal(http.StatusBadRequest))

			status, resp = c.send(http.MethodPost, "/reset-password/"+token, map[string]string{
				"password": "Reset1234!", "confirmPassword": "Reset1234!",
			})
			Expect(status).To(Equal(http.StatusOK), resp.Message)
			var data sessionData
			Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
			Expect(data.User.Email).To(Equal(email))

			status, _ = c.send(http.MethodPost, "/reset-password/"+token, map[string]string{
				"password": "Another12!", "confirmPassword": "Another12!",
			})
			Expect(status).To(Equal(http.StatusBadRequest))

			status, _ = newClient().send(http.MethodPost, "/login", map[string]string{"email": email, "password": "Reset1234!"})
			Expect(status).To(Equal(http.StatusOK))
		})
	})
})
