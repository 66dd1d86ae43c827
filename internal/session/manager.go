// Package session owns the authentication state of one browser session and
// coordinates the backend API and the phone verification provider.
//
// Every operation returns a result value. Remote failures never surface as
// Go errors; Restore is the exception and only for storage failures.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"p3am/internal/audit"
	"p3am/internal/backend"
	"p3am/internal/platform/metrics"
	"p3am/internal/session/models"
	"p3am/internal/session/store"
	"p3am/internal/verification"
)

const tracerName = "p3am/session"

// Backend is the subset of the backend API the manager calls.
type Backend interface {
	Login(ctx context.Context, username, password string) (*backend.LoginResponse, error)
	Register(ctx context.Context, reg models.Registration) (*backend.MessageResponse, error)
	SetNewPassword(ctx context.Context, resetToken, password string) (*backend.MessageResponse, error)
	VerifyIDToken(ctx context.Context, idToken string) (*backend.TokenResponse, error)
	Profile(ctx context.Context, token string) (map[string]any, error)
	Logout(ctx context.Context, token string) error
}

// Provider sends and confirms phone verification codes.
type Provider interface {
	SendCode(ctx context.Context, phoneNumber, challenge string) (verification.Handle, error)
	ConfirmCode(ctx context.Context, handle verification.Handle, code string) (string, error)
	SignOut(ctx context.Context) error
}

// ChallengeRenderer produces the anti-abuse token required before SendCode.
type ChallengeRenderer interface {
	Render(ctx context.Context, channel string) (string, error)
	Clear(channel string)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Session is the in-memory authentication state.
type Session struct {
	User               models.User
	Token              string
	Authenticated      bool
	PendingPhoneNumber string
}

// VerificationAttempt is an outstanding phone verification handshake.
// It is single use.
type VerificationAttempt struct {
	PhoneNumber string
	Channel     string
	Handle      verification.Handle
}

// Manager is safe for concurrent use. Operations are serialized; Snapshot,
// State and Busy read under a separate lock and never wait for a remote call.
type Manager struct {
	backend        Backend
	provider       Provider
	storage        store.Store
	challenge      ChallengeRenderer
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	sessionID      string
	tracer         trace.Tracer

	opMu sync.Mutex
	busy atomic.Bool

	mu      sync.RWMutex
	session Session
	attempt *VerificationAttempt
}

type Option func(*Manager)

func WithChallengeRenderer(r ChallengeRenderer) Option {
	return func(m *Manager) {
		if r != nil {
			m.challenge = r
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Manager) {
		m.auditPublisher = publisher
	}
}

// WithSessionID tags logs and audit events with the owning browser session.
func WithSessionID(id string) Option {
	return func(m *Manager) {
		m.sessionID = id
	}
}

// New returns an anonymous manager. Call Restore to load persisted state.
func New(b Backend, p Provider, storage store.Store, opts ...Option) *Manager {
	m := &Manager{
		backend:   b,
		provider:  p,
		storage:   storage,
		challenge: verification.NoChallenge{},
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sessionID != "" {
		m.logger = m.logger.With("session_id", m.sessionID)
	}
	return m
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() models.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.Snapshot{
		IsAuthenticated:     m.session.Authenticated,
		User:                m.session.User.Clone(),
		PendingPhoneNumber:  m.session.PendingPhoneNumber,
		VerificationPending: m.attempt != nil,
		State:               m.stateLocked(),
	}
}

func (m *Manager) State() models.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

// Busy reports whether an operation is in flight.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

func (m *Manager) stateLocked() models.State {
	switch {
	case m.session.Authenticated:
		return models.StateAuthenticated
	case m.session.PendingPhoneNumber != "":
		return models.StateAwaitingVerification
	default:
		return models.StateAnonymous
	}
}

// begin serializes an operation and opens its span. The returned func must
// be called exactly once with the operation outcome.
func (m *Manager) begin(ctx context.Context, op string) (context.Context, func(outcome string)) {
	m.opMu.Lock()
	m.busy.Store(true)
	ctx, span := m.tracer.Start(ctx, "session."+op,
		trace.WithAttributes(attribute.String("session.operation", op)),
	)
	return ctx, func(outcome string) {
		span.SetAttributes(attribute.String("session.outcome", outcome))
		if outcome != outcomeSuccess && outcome != outcomeMFARequired {
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if m.metrics != nil {
			m.metrics.IncrementOperation(op, outcome)
		}
		m.busy.Store(false)
		m.opMu.Unlock()
	}
}

// setSession replaces the in-memory session and drops any attempt.
func (m *Manager) setSession(s Session) {
	m.mu.Lock()
	prev := m.attempt
	m.session = s
	m.attempt = nil
	m.mu.Unlock()
	m.clearChallenge(prev)
}

// takeAttempt removes and returns the outstanding attempt.
func (m *Manager) takeAttempt() *VerificationAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.attempt
	m.attempt = nil
	return a
}

func (m *Manager) clearChallenge(a *VerificationAttempt) {
	if a != nil {
		m.challenge.Clear(a.Channel)
	}
}

func (m *Manager) current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// reset clears memory and every persisted key.
func (m *Manager) reset(ctx context.Context) {
	m.setSession(Session{})
	m.remove(ctx, store.AllKeys...)
}

// persistAuthenticated writes token and user and removes the pending phone.
func (m *Manager) persistAuthenticated(ctx context.Context, s Session) {
	m.persist(ctx, store.KeyToken, s.Token)
	m.persistUser(ctx, s.User)
	m.remove(ctx, store.KeyPhoneNumber)
}

func (m *Manager) persistUser(ctx context.Context, u models.User) {
	if u == nil {
		m.remove(ctx, store.KeyUser)
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to encode user record", "error", err)
		return
	}
	m.persist(ctx, store.KeyUser, string(raw))
}

// Storage is treated as always available: write failures are logged and
// the operation continues on in-memory state.
func (m *Manager) persist(ctx context.Context, key, value string) {
	if err := m.storage.Set(ctx, key, value); err != nil {
		m.logger.WarnContext(ctx, "failed to persist session key", "key", key, "error", err)
	}
}

func (m *Manager) remove(ctx context.Context, keys ...string) {
	if err := m.storage.Delete(ctx, keys...); err != nil {
		m.logger.WarnContext(ctx, "failed to remove session keys", "keys", keys, "error", err)
	}
}

func (m *Manager) emit(ctx context.Context, action audit.Action, outcome, username, reason string) {
	if m.auditPublisher == nil {
		return
	}
	err := m.auditPublisher.Emit(ctx, audit.Event{
		SessionID: m.sessionID,
		Action:    action,
		Outcome:   outcome,
		Username:  username,
		Reason:    reason,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to emit audit event", "action", string(action), "error", err)
	}
}

// remoteFailure classifies a backend error, logging it at the level the
// category warrants, and returns the metric outcome and user message.
func (m *Manager) remoteFailure(ctx context.Context, call string, err error, fallback string) (string, string) {
	switch {
	case backend.IsTransport(err):
		m.logger.ErrorContext(ctx, "backend unreachable", "call", call, "error", err)
		return outcomeNetworkError, msgNetworkError
	case backend.CategoryOf(err) == backend.CategoryBadData:
		m.logger.ErrorContext(ctx, "backend returned malformed response", "call", call, "error", err)
		return outcomeRejected, msgInvalidResponse
	default:
		m.logger.InfoContext(ctx, "backend rejected request", "call", call, "error", err)
		return outcomeRejected, messageOr(backend.MessageOf(err), fallback)
	}
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

func userFrom(u models.User, username string) models.User {
	if u != nil {
		return u
	}
	if username != "" {
		return models.User{"username": username}
	}
	return nil
}

func failed(msg string) models.Result {
	return models.Result{Success: false, Message: msg}
}

// decodeUser parses a stored user record. Anything but a JSON object is
// malformed.
func decodeUser(raw string) (models.User, error) {
	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.New("user record is not an object")
	}
	return u, nil
}
