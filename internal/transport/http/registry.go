package httptransport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"p3am/internal/platform/metrics"
	"p3am/internal/session"
)

const (
	defaultRegistryCapacity = 10000
	defaultIdleTTL          = 30 * time.Minute
)

// ManagerFactory builds the session manager for one browser session id.
type ManagerFactory func(sessionID string) *session.Manager

// Registry holds one session manager per browser session. Managers are built
// lazily and restored from storage, so a reload or a gateway restart picks
// up the persisted session. Idle managers expire and the least recently used
// are evicted past capacity; an evicted session is rebuilt from storage on
// its next request.
type Registry struct {
	factory ManagerFactory
	logger  *slog.Logger
	metrics *metrics.Metrics

	capacity int
	idleTTL  time.Duration

	managers *expirable.LRU[string, *session.Manager]
	loads    singleflight.Group
}

type RegistryOption func(*Registry)

// WithCapacity bounds the number of managers held in memory.
func WithCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithIdleTTL drops managers not used for d.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

func NewRegistry(factory ManagerFactory, logger *slog.Logger, m *metrics.Metrics, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		factory:  factory,
		logger:   logger,
		metrics:  m,
		capacity: defaultRegistryCapacity,
		idleTTL:  defaultIdleTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.managers = expirable.NewLRU[string, *session.Manager](r.capacity, nil, r.idleTTL)
	return r
}

// Get returns the manager for sessionID, creating and restoring it on first
// use. Concurrent first calls for the same id share one load; loads for
// different ids run in parallel.
func (r *Registry) Get(ctx context.Context, sessionID string) (*session.Manager, error) {
	if m, ok := r.managers.Get(sessionID); ok {
		r.managers.Add(sessionID, m) // refresh idle expiry
		return m, nil
	}

	v, err, _ := r.loads.Do(sessionID, func() (any, error) {
		if m, ok := r.managers.Get(sessionID); ok {
			return m, nil
		}
		m := r.factory(sessionID)
		if err := m.Restore(ctx); err != nil {
			return nil, fmt.Errorf("restore browser session: %w", err)
		}
		if r.managers.Add(sessionID, m) {
			r.logger.DebugContext(ctx, "session registry full, evicted least recently used session")
		}
		r.report()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Manager), nil
}

// Forget drops the manager for sessionID. Persisted state is untouched.
func (r *Registry) Forget(sessionID string) {
	if r.managers.Remove(sessionID) {
		r.report()
	}
}

// Len counts held managers, including expired ones not yet purged.
func (r *Registry) Len() int {
	return r.managers.Len()
}

func (r *Registry) report() {
	if r.metrics != nil {
		r.metrics.SetActiveSessions(r.managers.Len())
	}
}
