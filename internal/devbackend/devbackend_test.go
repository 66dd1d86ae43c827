package devbackend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"p3am/internal/backend"
	"p3am/internal/platform/logger"
	"p3am/internal/session/models"
	"p3am/internal/verification"
	"p3am/pkg/testutil"
)

const (
	testSigningKey      = "test-session-key"
	testVerificationKey = "test-verification-key"
)

func newTestUsers(t *testing.T) *Users {
	t.Helper()
	users, err := NewUsers(bcrypt.MinCost, DefaultSeed...)
	require.NoError(t, err)
	return users
}

func TestUsers(t *testing.T) {
	users := newTestUsers(t)

	t.Run("authenticate", func(t *testing.T) {
		u, err := users.Authenticate("user1", "pw")
		require.NoError(t, err)
		assert.Equal(t, "user1", u.Username)
		assert.NotEqual(t, "pw", u.PasswordHash)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := users.Authenticate("user1", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := users.Authenticate("ghost", "pw")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := users.Create(SeedUser{Username: "user1", Password: "x"})
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("lookup by phone", func(t *testing.T) {
		u, err := users.ByPhone("+15555550100")
		require.NoError(t, err)
		assert.Equal(t, "mfauser", u.Username)

		_, err = users.ByPhone("+19999999999")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("issue and validate", func(t *testing.T) {
		tokens := NewTokens(testSigningKey, time.Hour)
		token, err := tokens.Issue("user1")
		require.NoError(t, err)

		claims, err := tokens.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "user1", claims.Username)
		assert.NotEmpty(t, claims.TokenID)
	})

	t.Run("expired", func(t *testing.T) {
		tokens := NewTokens(testSigningKey, time.Minute)
		token, err := tokens.Issue("user1")
		require.NoError(t, err)

		tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, err = tokens.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := NewTokens("other-key", time.Hour).Issue("user1")
		require.NoError(t, err)
		_, err = NewTokens(testSigningKey, time.Hour).ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("revoked", func(t *testing.T) {
		tokens := NewTokens(testSigningKey, time.Hour)
		token, err := tokens.Issue("user1")
		require.NoError(t, err)

		require.NoError(t, tokens.RevokeToken(token))
		_, err = tokens.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})
}

// newTestAPI serves the dev backend and returns a backend client for it.
func newTestAPI(t *testing.T) (*backend.Client, *Handler) {
	t.Helper()
	log := logger.Discard()
	h := NewHandler(newTestUsers(t), NewTokens(testSigningKey, time.Hour), testVerificationKey, log)
	srv := httptest.NewServer(NewRouter(h, log))
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL), h
}

func TestAPI_Login(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestAPI(t)

	t.Run("direct login returns a token", func(t *testing.T) {
		resp, err := client.Login(ctx, "user1", "pw")
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.Empty(t, resp.PhoneNumber)
		assert.Equal(t, "user1", resp.User.Username())
		assert.Equal(t, "Login successful.", resp.Message)
	})

	t.Run("mfa account returns the phone number", func(t *testing.T) {
		resp, err := client.Login(ctx, "mfauser", "pw")
		require.NoError(t, err)
		assert.Empty(t, resp.Token)
		assert.Equal(t, "+15555550100", resp.PhoneNumber)
		assert.Equal(t, "mfauser", resp.Username)
	})

	t.Run("bad credentials", func(t *testing.T) {
		_, err := client.Login(ctx, "user1", "wrong")
		require.Error(t, err)
		assert.Equal(t, "Invalid username or password.", backend.MessageOf(err))
	})
}

func TestAPI_Register(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestAPI(t)

	reg := models.Registration{
		FullName: "New Person",
		Email:    "new@example.com",
		Username: "newbie",
		Phone:    "+15555550111",
		Password: "secret",
	}
	resp, err := client.Register(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, "Registration successful.", resp.Message)

	login, err := client.Login(ctx, "newbie", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)

	_, err = client.Register(ctx, reg)
	require.Error(t, err)
	assert.Equal(t, "Username already exists.", backend.MessageOf(err))

	_, err = client.Register(ctx, models.Registration{Username: "x"})
	require.Error(t, err)
	assert.Equal(t, backend.CategoryRejected, backend.CategoryOf(err))
}

func TestAPI_VerifyIDToken(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestAPI(t)

	outbox := verification.NewMemoryOutbox()
	provider := verification.NewLocal(testVerificationKey, outbox)
	handle, err := provider.SendCode(ctx, "+15555550100", "")
	require.NoError(t, err)
	code, ok := outbox.Last("+15555550100")
	require.True(t, ok)
	idToken, err := provider.ConfirmCode(ctx, handle, code)
	require.NoError(t, err)

	resp, err := client.VerifyIDToken(ctx, idToken)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "mfauser", resp.User.Username())
	assert.Equal(t, "Login successful via OTP.", resp.Message)

	_, err = client.VerifyIDToken(ctx, "garbage")
	require.Error(t, err)
	assert.Equal(t, "Invalid ID token.", backend.MessageOf(err))
}

func TestAPI_ProfileAndLogout(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestAPI(t)

	login, err := client.Login(ctx, "user1", "pw")
	require.NoError(t, err)

	profile, err := client.Profile(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, "user1@example.com", profile["email"])

	require.NoError(t, client.Logout(ctx, login.Token))

	_, err = client.Profile(ctx, login.Token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrUnauthorized))

	_, err = client.Profile(ctx, "")
	assert.True(t, errors.Is(err, backend.ErrUnauthorized))
}

func TestResets(t *testing.T) {
	users := newTestUsers(t)

	t.Run("token is single use", func(t *testing.T) {
		resets := NewResets(users, time.Minute)
		token, err := resets.Issue("user1")
		require.NoError(t, err)

		require.NoError(t, resets.Redeem(token, "fresh"))
		_, err = users.Authenticate("user1", "fresh")
		require.NoError(t, err)
		_, err = users.Authenticate("user1", "pw")
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		assert.ErrorIs(t, resets.Redeem(token, "again"), ErrInvalidResetToken)
	})

	t.Run("expired token", func(t *testing.T) {
		resets := NewResets(users, time.Minute)
		token, err := resets.Issue("mfauser")
		require.NoError(t, err)

		resets.now = func() time.Time { return time.Now().Add(time.Hour) }
		assert.ErrorIs(t, resets.Redeem(token, "x"), ErrInvalidResetToken)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := NewResets(users, time.Minute).Issue("ghost")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestAPI_PasswordReset(t *testing.T) {
	ctx := context.Background()
	client, h := newTestAPI(t)
	router := NewRouter(h, logger.Discard())

	t.Run("forgot password answers alike for unknown accounts", func(t *testing.T) {
		known := testutil.DoRequest(router,
			testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/forgot-password", forgotPasswordRequest{Username: "user1"}))
		unknown := testutil.DoRequest(router,
			testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/forgot-password", forgotPasswordRequest{Username: "ghost"}))

		testutil.AssertStatusOK(t, known)
		testutil.AssertStatusOK(t, unknown)
		assert.Equal(t, testutil.ReadBody(t, known), testutil.ReadBody(t, unknown))
	})

	t.Run("forgot password acknowledges with a message", func(t *testing.T) {
		rr := testutil.DoRequest(router,
			testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/forgot-password", forgotPasswordRequest{Username: "user1"}))
		testutil.AssertJSONHasKey(t, rr, "message")
	})

	t.Run("malformed body", func(t *testing.T) {
		rr := testutil.DoRequest(router,
			testutil.NewRequestWithBody(t, http.MethodPost, "/api/v1/set-new-password", `{"token":`))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		assert.Equal(t, "bad_request", testutil.UnmarshalErrorResponse(t, rr)["error"])
	})

	t.Run("missing fields", func(t *testing.T) {
		rr := testutil.DoRequest(router,
			testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/set-new-password", setNewPasswordRequest{Token: "rt"}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	t.Run("redeeming a token changes the password once", func(t *testing.T) {
		token, err := h.Resets().Issue("user1")
		require.NoError(t, err)

		rr := testutil.DoRequest(router,
			testutil.NewJSONRequest(t, http.MethodPost, "/api/v1/set-new-password", setNewPasswordRequest{Token: token, Password: "rotated"}))
		testutil.AssertStatusOK(t, rr)
		body := testutil.UnmarshalResponse[map[string]string](t, rr)
		assert.Equal(t, "Password updated successfully.", (*body)["message"])

		login, err := client.Login(ctx, "user1", "rotated")
		require.NoError(t, err)
		assert.NotEmpty(t, login.Token)
		_, err = client.Login(ctx, "user1", "pw")
		require.Error(t, err)

		_, err = client.SetNewPassword(ctx, token, "again")
		require.Error(t, err)
		assert.Equal(t, "Invalid or expired reset token.", backend.MessageOf(err))
	})
}
