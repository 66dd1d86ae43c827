package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"p3am/internal/platform/metrics"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	pathSendVerificationCode  = "/v1/accounts:sendVerificationCode"
	pathSignInWithPhoneNumber = "/v1/accounts:signInWithPhoneNumber"
	defaultToolkitTimeout     = 15 * time.Second
)

// restErrorCodes maps Identity Toolkit REST error strings to provider codes.
var restErrorCodes = map[string]string{
	"INVALID_PHONE_NUMBER":        CodeInvalidPhoneNumber,
	"MISSING_PHONE_NUMBER":        CodeMissingPhoneNumber,
	"TOO_MANY_ATTEMPTS_TRY_LATER": CodeTooManyRequests,
	"QUOTA_EXCEEDED":              CodeQuotaExceeded,
	"CAPTCHA_CHECK_FAILED":        CodeCaptchaCheckFailed,
	"MISSING_RECAPTCHA_TOKEN":     CodeCaptchaCheckFailed,
	"INVALID_RECAPTCHA_TOKEN":     CodeCaptchaCheckFailed,
	"INVALID_CODE":                CodeInvalidVerificationCode,
	"MISSING_CODE":                CodeMissingVerificationCode,
	"SESSION_EXPIRED":             CodeCodeExpired,
	"INVALID_SESSION_INFO":        CodeInvalidVerificationID,
	"MISSING_SESSION_INFO":        CodeInvalidVerificationID,
	"OPERATION_NOT_ALLOWED":       CodeOperationNotSupported,
}

type sendCodeRequest struct {
	PhoneNumber    string `json:"phoneNumber"`
	RecaptchaToken string `json:"recaptchaToken,omitempty"`
}

type sendCodeResponse struct {
	SessionInfo string `json:"sessionInfo"`
}

type signInRequest struct {
	SessionInfo string `json:"sessionInfo"`
	Code        string `json:"code"`
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	LocalID      string `json:"localId"`
	PhoneNumber  string `json:"phoneNumber"`
}

type restErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// IdentityToolkit is the phone auth provider backed by the Identity Toolkit
// REST API.
type IdentityToolkit struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics

	mu           sync.Mutex
	refreshToken string
}

type IdentityToolkitOption func(*IdentityToolkit)

func WithBaseURL(baseURL string) IdentityToolkitOption {
	return func(p *IdentityToolkit) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) IdentityToolkitOption {
	return func(p *IdentityToolkit) {
		if hc != nil {
			p.httpClient = hc
		}
	}
}

func WithMetrics(m *metrics.Metrics) IdentityToolkitOption {
	return func(p *IdentityToolkit) {
		p.metrics = m
	}
}

func NewIdentityToolkit(apiKey string, opts ...IdentityToolkitOption) *IdentityToolkit {
	p := &IdentityToolkit{
		apiKey:     apiKey,
		baseURL:    defaultIdentityToolkitURL,
		httpClient: &http.Client{Timeout: defaultToolkitTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SendCode asks the provider to text a code to phoneNumber. The returned
// handle is the provider's session info.
func (p *IdentityToolkit) SendCode(ctx context.Context, phoneNumber, challenge string) (Handle, error) {
	var out sendCodeResponse
	req := sendCodeRequest{PhoneNumber: phoneNumber, RecaptchaToken: challenge}
	if err := p.post(ctx, "send_code", pathSendVerificationCode, req, &out); err != nil {
		return "", err
	}
	if out.SessionInfo == "" {
		return "", &Error{Code: CodeInternal, Message: "provider returned no session info"}
	}
	return Handle(out.SessionInfo), nil
}

// ConfirmCode signs in with the code and returns the provider ID token.
func (p *IdentityToolkit) ConfirmCode(ctx context.Context, handle Handle, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", &Error{Code: CodeMissingVerificationCode, Message: "code is empty"}
	}
	var out signInResponse
	req := signInRequest{SessionInfo: string(handle), Code: strings.TrimSpace(code)}
	if err := p.post(ctx, "confirm_code", pathSignInWithPhoneNumber, req, &out); err != nil {
		return "", err
	}
	if out.IDToken == "" {
		return "", &Error{Code: CodeInternal, Message: "provider returned no id token"}
	}
	p.mu.Lock()
	p.refreshToken = out.RefreshToken
	p.mu.Unlock()
	return out.IDToken, nil
}

// SignOut drops the provider credential held from the last confirmation.
// The REST API has no server-side sign out.
func (p *IdentityToolkit) SignOut(context.Context) error {
	p.mu.Lock()
	p.refreshToken = ""
	p.mu.Unlock()
	return nil
}

func (p *IdentityToolkit) post(ctx context.Context, call, path string, in, out any) error {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveRemoteCall("verification", call, time.Since(start))
		}
	}()

	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", call, err)
	}
	endpoint := p.baseURL + path + "?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create %s request: %w", call, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &Error{Code: CodeNetworkRequestFailed, Message: "provider unreachable", Underlying: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Code: CodeNetworkRequestFailed, Message: "read provider response", Underlying: err}
	}
	if resp.StatusCode != http.StatusOK {
		return restError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Code: CodeInternal, Message: "decode provider response", Underlying: err}
	}
	return nil
}

// restError translates "INVALID_PHONE_NUMBER : Invalid format." style
// messages into provider codes, keeping the raw text.
func restError(status int, payload []byte) *Error {
	var parsed restErrorResponse
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.Error.Message == "" {
		return &Error{Code: CodeInternal, Message: fmt.Sprintf("provider returned status %d", status)}
	}
	raw := parsed.Error.Message
	key, _, _ := strings.Cut(raw, " : ")
	key = strings.TrimSpace(key)
	if code, ok := restErrorCodes[key]; ok {
		return &Error{Code: code, Message: raw}
	}
	return &Error{Code: CodeInternal, Message: raw}
}
