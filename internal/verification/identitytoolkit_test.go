package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newToolkit(t *testing.T, handler http.HandlerFunc) *IdentityToolkit {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewIdentityToolkit("api-key", WithBaseURL(srv.URL+"/"))
}

func writeToolkitJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toolkitError(message string) map[string]any {
	return map[string]any{"error": map[string]any{"code": 400, "message": message}}
}

func TestIdentityToolkit_SendCode(t *testing.T) {
	p := newToolkit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathSendVerificationCode, r.URL.Path)
		assert.Equal(t, "api-key", r.URL.Query().Get("key"))

		var body sendCodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15555550100", body.PhoneNumber)
		assert.Equal(t, "captcha-token", body.RecaptchaToken)

		writeToolkitJSON(w, http.StatusOK, sendCodeResponse{SessionInfo: "session-info"})
	})

	handle, err := p.SendCode(context.Background(), "+15555550100", "captcha-token")
	require.NoError(t, err)
	assert.Equal(t, Handle("session-info"), handle)
}

func TestIdentityToolkit_ConfirmCode(t *testing.T) {
	p := newToolkit(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathSignInWithPhoneNumber, r.URL.Path)

		var body signInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Code != "123456" {
			writeToolkitJSON(w, http.StatusBadRequest, toolkitError("INVALID_CODE"))
			return
		}
		assert.Equal(t, "session-info", body.SessionInfo)
		writeToolkitJSON(w, http.StatusOK, signInResponse{IDToken: "id-token", RefreshToken: "refresh"})
	})

	idToken, err := p.ConfirmCode(context.Background(), "session-info", "123456")
	require.NoError(t, err)
	assert.Equal(t, "id-token", idToken)

	_, err = p.ConfirmCode(context.Background(), "session-info", "999999")
	assert.Equal(t, CodeInvalidVerificationCode, CodeOf(err))

	_, err = p.ConfirmCode(context.Background(), "session-info", "")
	assert.Equal(t, CodeMissingVerificationCode, CodeOf(err))

	require.NoError(t, p.SignOut(context.Background()))
}

func TestIdentityToolkit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantCode string
	}{
		{"invalid phone with detail", "INVALID_PHONE_NUMBER : Invalid format.", CodeInvalidPhoneNumber},
		{"throttled", "TOO_MANY_ATTEMPTS_TRY_LATER", CodeTooManyRequests},
		{"captcha", "CAPTCHA_CHECK_FAILED : Recaptcha verification failed", CodeCaptchaCheckFailed},
		{"quota", "QUOTA_EXCEEDED", CodeQuotaExceeded},
		{"expired", "SESSION_EXPIRED", CodeCodeExpired},
		{"unknown", "SOMETHING_NEW", CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newToolkit(t, func(w http.ResponseWriter, r *http.Request) {
				writeToolkitJSON(w, http.StatusBadRequest, toolkitError(tt.message))
			})
			_, err := p.SendCode(context.Background(), "+15555550100", "captcha")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, CodeOf(err))
		})
	}
}

func TestIdentityToolkit_UnknownErrorKeepsRawMessage(t *testing.T) {
	p := newToolkit(t, func(w http.ResponseWriter, r *http.Request) {
		writeToolkitJSON(w, http.StatusBadRequest, toolkitError("SOMETHING_NEW"))
	})
	_, err := p.SendCode(context.Background(), "+15555550100", "captcha")
	assert.Equal(t, "SOMETHING_NEW", Message(err))
}

func TestIdentityToolkit_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p := NewIdentityToolkit("api-key", WithBaseURL(base))
	_, err := p.SendCode(context.Background(), "+15555550100", "captcha")
	assert.Equal(t, CodeNetworkRequestFailed, CodeOf(err))
	assert.Equal(t, "Network error or server unavailable.", Message(err))
}
