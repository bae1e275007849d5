package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/parley/pkg/provider"
)

func transientErr() error {
	return &provider.Error{Provider: "stub", Kind: provider.Transient, Err: errors.New("timeout")}
}

// recordSleeps returns a sleep func that records delays without waiting.
func recordSleeps(delays *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func noJitter() Option { return WithRand(func() float64 { return 0 }) }

func TestAlwaysTransientMakesMaxAttempts(t *testing.T) {
	var delays []time.Duration
	c := New(DefaultPolicy(), recordSleeps(&delays), noJitter())

	calls := 0
	attempts, err := c.Do(context.Background(), func(int) error {
		calls++
		return transientErr()
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, provider.Transient, provider.KindOf(err))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestFatalIsNotRetried(t *testing.T) {
	for _, kind := range []provider.Kind{provider.Fatal, provider.Unsupported} {
		var delays []time.Duration
		c := New(DefaultPolicy(), recordSleeps(&delays))

		calls := 0
		_, err := c.Do(context.Background(), func(int) error {
			calls++
			return &provider.Error{Kind: kind, Err: errors.New("nope")}
		})

		assert.Equal(t, 1, calls, kind)
		assert.Equal(t, kind, provider.KindOf(err))
		assert.Empty(t, delays)
		var ex *ExhaustedError
		assert.False(t, errors.As(err, &ex))
	}
}

func TestSucceedsAfterTransient(t *testing.T) {
	var delays []time.Duration
	c := New(DefaultPolicy(), recordSleeps(&delays), noJitter())

	attempts, err := c.Do(context.Background(), func(attempt int) error {
		if attempt < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, delays, 2)
}

func TestRetryAfterHonoured(t *testing.T) {
	var delays []time.Duration
	c := New(DefaultPolicy(), recordSleeps(&delays), noJitter())

	_, err := c.Do(context.Background(), func(attempt int) error {
		if attempt == 1 {
			return &provider.Error{Kind: provider.RateLimited, RetryAfter: 4 * time.Second, Err: errors.New("slow down")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{4 * time.Second}, delays)
}

func TestNoRetryPastDeadline(t *testing.T) {
	var delays []time.Duration
	c := New(DefaultPolicy(), recordSleeps(&delays), noJitter())

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	calls := 0
	attempts, err := c.Do(ctx, func(int) error {
		calls++
		return transientErr()
	})

	// First backoff (1s) fits in the window, the second (2s) does not.
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, ErrDeadline)
	assert.Equal(t, provider.Transient, provider.KindOf(err))
}

func TestExpiredDeadlineMakesNoCall(t *testing.T) {
	c := New(DefaultPolicy())
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	calls := 0
	attempts, err := c.Do(ctx, func(int) error {
		calls++
		return nil
	})
	assert.Zero(t, calls)
	assert.Zero(t, attempts)
	assert.ErrorIs(t, err, ErrDeadline)
}

func TestSleepInterruptedByCancel(t *testing.T) {
	c := New(Policy{MaxAttempts: 5, BaseDelay: 10 * time.Second, Multiplier: 2, MaxDelay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	attempts, err := c.Do(ctx, func(int) error { return transientErr() })
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, ErrDeadline)
}

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5))
	assert.Equal(t, 10*time.Second, p.Backoff(20))
	assert.Equal(t, time.Second, p.Backoff(0))
}

func TestBackoffUncappedSaturates(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, Multiplier: 1000, Jitter: true}
	for attempt := 1; attempt <= 10; attempt++ {
		assert.Positive(t, p.Backoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, time.Duration(math.MaxInt64), p.Backoff(8))

	d := Decide(p, State{Attempt: 8}, transientErr(), time.Now(), time.Time{}, 0.9)
	assert.True(t, d.Retry)
	assert.Equal(t, time.Duration(math.MaxInt64), d.Delay)
}

func TestDecide(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		state    State
		err      error
		deadline time.Time
		jitter   float64
		want     Decision
	}{
		{"success", State{Attempt: 1}, nil, time.Time{}, 0, Decision{}},
		{"fatal", State{Attempt: 1}, &provider.Error{Kind: provider.Fatal}, time.Time{}, 0, Decision{Reason: StopNotRetryable}},
		{"first transient", State{Attempt: 1}, transientErr(), time.Time{}, 0, Decision{Retry: true, Delay: time.Second}},
		{"jitter", State{Attempt: 2}, transientErr(), time.Time{}, 0.5, Decision{Retry: true, Delay: 3 * time.Second}},
		{"exhausted", State{Attempt: 3}, transientErr(), time.Time{}, 0, Decision{Reason: StopExhausted}},
		{"deadline", State{Attempt: 1}, transientErr(), now.Add(500 * time.Millisecond), 0, Decision{Delay: time.Second, Reason: StopDeadline}},
		{"unclassified is transient", State{Attempt: 1}, errors.New("eof"), time.Time{}, 0, Decision{Retry: true, Delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(p, tt.state, tt.err, now, tt.deadline, tt.jitter))
		})
	}
}

func TestJitterStaysBelowDoubleDelay(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()
	for i := 0; i < 100; i++ {
		d := Decide(p, State{Attempt: 2}, transientErr(), now, time.Time{}, float64(i)/100)
		assert.GreaterOrEqual(t, d.Delay, 2*time.Second)
		assert.Less(t, d.Delay, 4*time.Second)
	}
}

func TestNewFallsBackToDefaults(t *testing.T) {
	c := New(Policy{})
	assert.Equal(t, DefaultPolicy(), c.Policy())
}
