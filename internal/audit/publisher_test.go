package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p3am/internal/platform/logger"
	"p3am/pkg/platform/circuit"
)

type flakyPublisher struct {
	err   error
	calls int
}

func (p *flakyPublisher) Emit(context.Context, Event) error {
	p.calls++
	return p.err
}

// blockingPublisher never completes on its own; it waits for the context.
type blockingPublisher struct {
	calls atomic.Int32
}

func (p *blockingPublisher) Emit(ctx context.Context, _ Event) error {
	p.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestMemoryPublisher_StampsAndRecords(t *testing.T) {
	p := NewMemoryPublisher()
	require.NoError(t, p.Emit(context.Background(), Event{Action: ActionLoginSucceeded, Username: "user1"}))

	events := p.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, []Action{ActionLoginSucceeded}, p.Actions())
}

func TestLogPublisher_NeverFails(t *testing.T) {
	p := NewLogPublisher(logger.Discard())
	assert.NoError(t, p.Emit(context.Background(), Event{Action: ActionLogout}))
}

func TestFallbackPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy primary skips fallback", func(t *testing.T) {
		primary := &flakyPublisher{}
		fallback := NewMemoryPublisher()
		p := NewFallbackPublisher(primary, fallback, circuit.New("audit"), logger.Discard())

		require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginSucceeded}))
		assert.Equal(t, 1, primary.calls)
		assert.Empty(t, fallback.Events())
	})

	t.Run("failed primary goes to fallback and opens breaker", func(t *testing.T) {
		primary := &flakyPublisher{err: errors.New("broker down")}
		fallback := NewMemoryPublisher()
		breaker := circuit.New("audit", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
		p := NewFallbackPublisher(primary, fallback, breaker, logger.Discard(), WithRetryInterval(0))

		require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginFailed}))
		assert.False(t, breaker.IsOpen())
		require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginFailed}))
		assert.True(t, breaker.IsOpen())
		assert.Len(t, fallback.Events(), 2)

		// recovery closes the breaker after the success threshold
		primary.err = nil
		require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginSucceeded}))
		assert.False(t, breaker.IsOpen())
		assert.Len(t, fallback.Events(), 2)
	})

	t.Run("open breaker keeps dual writing until closed", func(t *testing.T) {
		primary := &flakyPublisher{err: errors.New("broker down")}
		fallback := NewMemoryPublisher()
		breaker := circuit.New("audit", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2))
		p := NewFallbackPublisher(primary, fallback, breaker, logger.Discard(), WithRetryInterval(0))

		require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginFailed}))
		require.True(t, breaker.IsOpen())

		primary.err = nil
		require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginSucceeded}))
		assert.True(t, breaker.IsOpen())
		assert.Len(t, fallback.Events(), 2)
	})
}

func TestFallbackPublisher_HungPrimary(t *testing.T) {
	primary := &blockingPublisher{}
	fallback := NewMemoryPublisher()
	breaker := circuit.New("audit", circuit.WithFailureThreshold(2))
	p := NewFallbackPublisher(primary, fallback, breaker, logger.Discard(),
		WithPublishTimeout(20*time.Millisecond),
	)

	// no deadline on the caller's context, like an HTTP request
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginSucceeded}))
	require.NoError(t, p.Emit(ctx, Event{Action: ActionLogout}))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, breaker.IsOpen())
	assert.Equal(t, []Action{ActionLoginSucceeded, ActionLogout}, fallback.Actions())

	// open breaker: events bypass the hung primary entirely
	start = time.Now()
	require.NoError(t, p.Emit(ctx, Event{Action: ActionProfileFetched}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int32(2), primary.calls.Load())
	assert.Len(t, fallback.Events(), 3)
}

func TestFallbackPublisher_RetriesOpenPrimaryPerInterval(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	primary := &flakyPublisher{err: errors.New("broker down")}
	fallback := NewMemoryPublisher()
	breaker := circuit.New("audit", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(1))
	p := NewFallbackPublisher(primary, fallback, breaker, logger.Discard(),
		WithRetryInterval(time.Minute),
		WithFallbackClock(clock),
	)

	require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginFailed}))
	require.True(t, breaker.IsOpen())
	require.Equal(t, 1, primary.calls)

	now = now.Add(30 * time.Second)
	require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginFailed}))
	assert.Equal(t, 1, primary.calls, "primary is skipped inside the retry interval")

	primary.err = nil
	now = now.Add(time.Minute)
	require.NoError(t, p.Emit(ctx, Event{Action: ActionLoginSucceeded}))
	assert.Equal(t, 2, primary.calls)
	assert.False(t, breaker.IsOpen())
	assert.Len(t, fallback.Events(), 2)
}
