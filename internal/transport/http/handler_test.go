package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"p3am/internal/audit"
	"p3am/internal/backend"
	"p3am/internal/devbackend"
	"p3am/internal/platform/logger"
	"p3am/internal/platform/metrics"
	"p3am/internal/session"
	"p3am/internal/session/models"
	"p3am/internal/session/store"
	"p3am/internal/verification"
	"p3am/pkg/testutil"
)

const (
	testVerificationKey = "test-verification-key"
	mfaPhone            = "+15555550100"
)

// swapHandler lets a test replace the gateway behind a running server, which
// is how a gateway restart is simulated without losing the cookie jar.
type swapHandler struct {
	current atomic.Pointer[http.Handler]
}

func (s *swapHandler) set(h http.Handler) { s.current.Store(&h) }

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}

type GatewaySuite struct {
	suite.Suite

	base     *store.InMemoryStore
	outbox   *verification.MemoryOutbox
	audit    *audit.MemoryPublisher
	api      *devbackend.Handler
	apiURL   string
	registry *Registry
	swap     *swapHandler
	server   *httptest.Server
	client   *http.Client
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	log := logger.Discard()

	users, err := devbackend.NewUsers(bcrypt.MinCost, devbackend.DefaultSeed...)
	s.Require().NoError(err)
	s.api = devbackend.NewHandler(users, devbackend.NewTokens("test-session-key", time.Hour), testVerificationKey, log)
	apiServer := httptest.NewServer(devbackend.NewRouter(s.api, log))
	s.T().Cleanup(apiServer.Close)
	s.apiURL = apiServer.URL

	s.base = store.NewInMemory()
	s.outbox = verification.NewMemoryOutbox()
	s.audit = audit.NewMemoryPublisher()

	s.swap = &swapHandler{}
	s.swap.set(s.newGateway())
	s.server = httptest.NewServer(s.swap)
	s.T().Cleanup(s.server.Close)
	s.client = testutil.NewCookieClient(s.T())
}

// newGateway builds a gateway over the suite's shared storage and cookie keys.
func (s *GatewaySuite) newGateway() http.Handler {
	log := logger.Discard()
	m := metrics.New(prometheus.NewRegistry())
	client := backend.NewClient(s.apiURL, backend.WithMetrics(m))

	factory := func(id string) *session.Manager {
		return session.New(client,
			verification.NewLocal(testVerificationKey, s.outbox),
			store.NewScoped(s.base, id),
			session.WithSessionID(id),
			session.WithLogger(log),
			session.WithMetrics(m),
			session.WithAuditPublisher(s.audit),
		)
	}
	s.registry = NewRegistry(factory, log, m)
	cookies := NewCookieStore(CookieConfig{HashKey: []byte("0123456789abcdef0123456789abcdef")})
	return NewRouter(RouterConfig{
		Handler: NewHandler(s.registry, cookies, log),
		Logger:  log,
		Metrics: m,
	})
}

func (s *GatewaySuite) url(path string) string {
	return s.server.URL + "/api/v1/session" + path
}

func (s *GatewaySuite) post(path string, body any) (int, models.Result) {
	resp := testutil.PostJSON(s.T(), s.client, s.url(path), body)
	return resp.StatusCode, testutil.DecodeResponse[models.Result](s.T(), resp)
}

func (s *GatewaySuite) snapshot() models.Snapshot {
	resp := testutil.Get(s.T(), s.client, s.url("/"))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	return testutil.DecodeResponse[models.Snapshot](s.T(), resp)
}

func (s *GatewaySuite) profile() (int, models.ProfileResult) {
	resp := testutil.Get(s.T(), s.client, s.url("/profile"))
	return resp.StatusCode, testutil.DecodeResponse[models.ProfileResult](s.T(), resp)
}

func (s *GatewaySuite) TestPhoneVerificationFlow() {
	snap := s.snapshot()
	s.Equal(models.StateAnonymous, snap.State)

	status, res := s.post("/login", models.Credentials{Username: "mfauser", Password: "pw"})
	s.Equal(http.StatusOK, status)
	s.True(res.Success)
	s.True(res.MFARequired)

	snap = s.snapshot()
	s.Equal(models.StateAwaitingVerification, snap.State)
	s.Equal(mfaPhone, snap.PendingPhoneNumber)

	_, res = s.post("/verification", map[string]string{"channel": "recaptcha-container"})
	s.Require().True(res.Success, res.Message)
	s.Equal("OTP sent!", res.Message)

	code, ok := s.outbox.Last(mfaPhone)
	s.Require().True(ok)
	_, res = s.post("/verification/confirm", map[string]string{"code": code})
	s.Require().True(res.Success, res.Message)
	s.Equal("Login successful via OTP.", res.Message)

	snap = s.snapshot()
	s.True(snap.IsAuthenticated)
	s.Empty(snap.PendingPhoneNumber)

	status, prof := s.profile()
	s.Equal(http.StatusOK, status)
	s.True(prof.Success)
	s.Equal("mfauser@example.com", prof.User["email"])

	_, res = s.post("/logout", struct{}{})
	s.True(res.Success)
	s.Equal(0, s.registry.Len())
	s.Zero(s.base.Len())

	status, prof = s.profile()
	s.Equal(http.StatusUnauthorized, status)
	s.Equal("Not authenticated.", prof.Message)

	s.Contains(s.audit.Actions(), audit.ActionVerificationSucceeded)
}

func (s *GatewaySuite) TestDirectLoginSurvivesRestart() {
	_, res := s.post("/login", models.Credentials{Username: "user1", Password: "pw"})
	s.Require().True(res.Success, res.Message)
	s.False(res.MFARequired)

	s.swap.set(s.newGateway())

	snap := s.snapshot()
	s.True(snap.IsAuthenticated)
	s.Equal("user1", snap.User.Username())

	status, prof := s.profile()
	s.Equal(http.StatusOK, status)
	s.Equal("Demo User", prof.User["full_name"])
}

func (s *GatewaySuite) TestWrongCodeResetsSession() {
	_, res := s.post("/login", models.Credentials{Username: "mfauser", Password: "pw"})
	s.Require().True(res.MFARequired)
	_, res = s.post("/verification", map[string]string{"channel": "c"})
	s.Require().True(res.Success)

	wrong := "000000"
	if code, _ := s.outbox.Last(mfaPhone); code == wrong {
		wrong = "111111"
	}
	_, res = s.post("/verification/confirm", map[string]string{"code": wrong})
	s.False(res.Success)
	s.NotEmpty(res.Message)

	snap := s.snapshot()
	s.Equal(models.StateAnonymous, snap.State)
	s.False(snap.VerificationPending)
}

func (s *GatewaySuite) TestLoginRejected() {
	status, res := s.post("/login", models.Credentials{Username: "user1", Password: "wrong"})
	s.Equal(http.StatusOK, status)
	s.False(res.Success)
	s.Equal("Invalid username or password.", res.Message)
	s.Equal(models.StateAnonymous, s.snapshot().State)
}

func (s *GatewaySuite) TestRegister() {
	_, res := s.post("/register", models.Registration{
		FullName: "New Person",
		Email:    "new@example.com",
		Username: "newbie",
		Phone:    "+15555550123",
		Password: "secret",
	})
	s.True(res.Success)
	s.Equal("Registration successful.", res.Message)
	s.Equal(models.StateAnonymous, s.snapshot().State)
}

func (s *GatewaySuite) TestSetNewPassword() {
	_, res := s.post("/login", models.Credentials{Username: "user1", Password: "pw"})
	s.Require().True(res.Success)
	token, err := s.api.Resets().Issue("user1")
	s.Require().NoError(err)

	status, res := s.post("/password", map[string]string{"token": token, "password": "rotated"})
	s.Equal(http.StatusOK, status)
	s.True(res.Success)
	s.Equal("Password updated successfully.", res.Message)
	s.True(s.snapshot().IsAuthenticated)

	_, res = s.post("/password", map[string]string{"token": token, "password": "again"})
	s.False(res.Success)
	s.Equal("Invalid or expired reset token.", res.Message)

	_, res = s.post("/password", map[string]string{"token": "", "password": "x"})
	s.Equal("Reset token and new password are required.", res.Message)
	s.Contains(s.audit.Actions(), audit.ActionPasswordReset)
}

func (s *GatewaySuite) TestMalformedBody() {
	resp, err := s.client.Post(s.url("/login"), "application/json", nil)
	s.Require().NoError(err)
	body := testutil.DecodeResponse[map[string]string](s.T(), resp)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("bad_request", body["error"])
}

func (s *GatewaySuite) TestVerificationWithoutLogin() {
	_, res := s.post("/verification", map[string]string{"channel": "c"})
	s.False(res.Success)
	s.Equal("Phone number not available to send OTP.", res.Message)
}

func (s *GatewaySuite) TestSessionsAreIsolatedPerCookie() {
	_, res := s.post("/login", models.Credentials{Username: "user1", Password: "pw"})
	s.Require().True(res.Success)

	other := testutil.NewCookieClient(s.T())
	resp := testutil.Get(s.T(), other, s.url("/"))
	snap := testutil.DecodeResponse[models.Snapshot](s.T(), resp)
	s.False(snap.IsAuthenticated)
	s.Equal(2, s.registry.Len())
}

type failingStore struct{ store.Store }

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestHandler_StorageUnavailable(t *testing.T) {
	log := logger.Discard()
	factory := func(id string) *session.Manager {
		return session.New(backend.NewClient("http://127.0.0.1:1"), verification.NewLocal("k", verification.NewMemoryOutbox()),
			failingStore{}, session.WithLogger(log))
	}
	registry := NewRegistry(factory, log, nil)
	h := NewHandler(registry, NewCookieStore(CookieConfig{HashKey: []byte("hash-key")}), log)
	router := NewRouter(RouterConfig{Handler: h, Logger: log, Metrics: metrics.New(prometheus.NewRegistry())})

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/api/v1/session/"))
	testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "session_unavailable")
	assert.Equal(t, 0, registry.Len())
}

func TestHealthz(t *testing.T) {
	log := logger.Discard()
	registry := NewRegistry(nil, log, nil)
	newRouter := func(checks map[string]HealthCheck) http.Handler {
		return NewRouter(RouterConfig{
			Handler:  NewHandler(registry, NewCookieStore(CookieConfig{HashKey: []byte("hash-key")}), log),
			Logger:   log,
			Metrics:  metrics.New(prometheus.NewRegistry()),
			Gatherer: prometheus.NewRegistry(),
			Checks:   checks,
		})
	}

	t.Run("healthy", func(t *testing.T) {
		router := newRouter(map[string]HealthCheck{"store": func(context.Context) error { return nil }})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("degraded", func(t *testing.T) {
		router := newRouter(map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
			"kafka": func(context.Context) error { return errors.New("no brokers") },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		testutil.AssertJSONContains(t, rr, "status", "degraded")
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		router := newRouter(nil)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		require.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestDeviceLabel(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"empty", "", "unknown"},
		{"desktop firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0", "Firefox on Linux"},
		{"bot", "Googlebot/2.1 (+http://www.google.com/bot.html)", "bot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(deviceLabel(tt.ua), tt.want), deviceLabel(tt.ua))
		})
	}
}
