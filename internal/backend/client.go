// Package backend is the JSON/HTTP client for the banking backend API.
// Calls are made exactly once; nothing here retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"p3am/internal/platform/metrics"
	"p3am/internal/session/models"
)

const (
	pathLogin    = "/api/v1/login"
	pathRegister = "/api/v1/register"
	pathVerify   = "/api/v1/verify-firebase-id-token"
	pathProfile  = "/api/v1/profile"
	pathLogout   = "/api/v1/logout"
	pathPassword = "/api/v1/set-new-password"

	maxResponseBytes = 1 << 20
)

// LoginResponse carries either a session token or, for accounts that need
// phone verification, the phone number to verify.
type LoginResponse struct {
	Token       string      `json:"token,omitempty"`
	User        models.User `json:"user,omitempty"`
	Username    string      `json:"username,omitempty"`
	PhoneNumber string      `json:"phoneNumber,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// TokenResponse is returned by the identity token exchange.
type TokenResponse struct {
	Token    string      `json:"token,omitempty"`
	User     models.User `json:"user,omitempty"`
	Username string      `json:"username,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// MessageResponse is the body of calls that only acknowledge.
type MessageResponse struct {
	Message string `json:"message,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type verifyRequest struct {
	IDToken string `json:"idToken"`
}

type setNewPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type errorResponse struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client talks to the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every call. Zero means no client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d, Transport: c.httpClient.Transport}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login posts the credential pair.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, "login", http.MethodPost, pathLogin, "", loginRequest{Username: username, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg models.Registration) (*MessageResponse, error) {
	body := registerRequest{
		FullName: reg.FullName,
		Email:    reg.Email,
		Username: reg.Username,
		Phone:    reg.Phone,
		Password: reg.Password,
	}
	var out MessageResponse
	if err := c.do(ctx, "register", http.MethodPost, pathRegister, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyIDToken exchanges a phone verification identity token for a session token.
func (c *Client) VerifyIDToken(ctx context.Context, idToken string) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, "verify", http.MethodPost, pathVerify, "", verifyRequest{IDToken: idToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetNewPassword redeems a password reset token.
func (c *Client) SetNewPassword(ctx context.Context, resetToken, password string) (*MessageResponse, error) {
	var out MessageResponse
	body := setNewPasswordRequest{Token: resetToken, Password: password}
	if err := c.do(ctx, "set_new_password", http.MethodPost, pathPassword, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches the profile of the token's owner.
func (c *Client) Profile(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, "profile", http.MethodGet, pathProfile, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Logout asks the backend to invalidate token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, "logout", http.MethodPost, pathLogout, token, nil, nil)
}

func (c *Client) do(ctx context.Context, call, method, path, token string, in, out any) error {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveRemoteCall("backend", call, time.Since(start))
		}
	}()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", call, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", call, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newError(CategoryTransport, call, 0, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newError(CategoryTransport, call, resp.StatusCode, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejectedError(call, resp.StatusCode, errorMessage(payload))
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return newError(CategoryBadData, call, resp.StatusCode, "decode response", err)
	}
	return nil
}

func errorMessage(payload []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return ""
	}
	switch {
	case parsed.Message != "":
		return parsed.Message
	case parsed.ErrorDescription != "":
		return parsed.ErrorDescription
	default:
		return parsed.Error
	}
}
