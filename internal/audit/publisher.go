package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"p3am/pkg/platform/circuit"
)

// Publisher delivers audit events to a sink.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// LogPublisher writes events as structured log lines.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) error {
	stamp(&event)
	p.logger.InfoContext(ctx, "audit event",
		"action", string(event.Action),
		"outcome", event.Outcome,
		"session_id", event.SessionID,
		"username", event.Username,
		"reason", event.Reason,
		"timestamp", event.Timestamp,
	)
	return nil
}

// MemoryPublisher keeps events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Emit(_ context.Context, event Event) error {
	stamp(&event)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Actions lists emitted actions in order.
func (p *MemoryPublisher) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Action, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Action)
	}
	return out
}

const (
	defaultPublishTimeout = 2 * time.Second
	defaultRetryInterval  = 10 * time.Second
)

// FallbackPublisher sends to primary and, when primary fails, to fallback.
// Each primary call is bounded by a publish timeout. While the breaker is
// open events go to fallback only, except for one retry of primary per
// retry interval; retries that succeed are dual written until the breaker
// closes.
type FallbackPublisher struct {
	primary  Publisher
	fallback Publisher
	breaker  *circuit.Breaker
	logger   *slog.Logger

	publishTimeout time.Duration
	retryInterval  time.Duration
	now            func() time.Time

	mu        sync.Mutex
	lastRetry time.Time
}

type FallbackOption func(*FallbackPublisher)

// WithPublishTimeout bounds each primary call.
func WithPublishTimeout(d time.Duration) FallbackOption {
	return func(p *FallbackPublisher) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// WithRetryInterval sets how often an open breaker lets an event through to
// primary. Zero retries on every event.
func WithRetryInterval(d time.Duration) FallbackOption {
	return func(p *FallbackPublisher) {
		if d >= 0 {
			p.retryInterval = d
		}
	}
}

func WithFallbackClock(now func() time.Time) FallbackOption {
	return func(p *FallbackPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewFallbackPublisher(primary, fallback Publisher, breaker *circuit.Breaker, logger *slog.Logger, opts ...FallbackOption) *FallbackPublisher {
	if breaker == nil {
		breaker = circuit.New("audit")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &FallbackPublisher{
		primary:        primary,
		fallback:       fallback,
		breaker:        breaker,
		logger:         logger,
		publishTimeout: defaultPublishTimeout,
		retryInterval:  defaultRetryInterval,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *FallbackPublisher) Emit(ctx context.Context, event Event) error {
	stamp(&event)
	if p.breaker.IsOpen() && !p.takeRetry() {
		return p.fallback.Emit(ctx, event)
	}

	err := p.emitPrimary(ctx, event)
	if err == nil {
		healthy, change := p.breaker.RecordSuccess()
		if change.Closed {
			p.logger.InfoContext(ctx, "audit primary recovered", "breaker", p.breaker.Name())
		}
		if healthy {
			return nil
		}
		return p.fallback.Emit(ctx, event)
	}

	_, change := p.breaker.RecordFailure()
	if change.Opened {
		p.mu.Lock()
		p.lastRetry = p.now()
		p.mu.Unlock()
		p.logger.WarnContext(ctx, "audit primary failing, using fallback",
			"breaker", p.breaker.Name(),
			"error", err,
		)
	}
	return p.fallback.Emit(ctx, event)
}

func (p *FallbackPublisher) emitPrimary(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	return p.primary.Emit(ctx, event)
}

// takeRetry reports whether this event may retry an open primary.
func (p *FallbackPublisher) takeRetry() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !p.lastRetry.IsZero() && now.Sub(p.lastRetry) < p.retryInterval {
		return false
	}
	p.lastRetry = now
	return true
}

func stamp(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
}
