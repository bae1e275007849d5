// Package retry wraps a single provider call with bounded exponential backoff.
//
// The decision to retry is made by the pure function Decide; Controller only
// performs the attempts and the sleeps it is told to.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/parley/pkg/provider"
)

// ErrDeadline is returned when the overarching deadline leaves no room for
// another attempt.
var ErrDeadline = errors.New("deadline reached before next attempt")

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	Multiplier  float64       `yaml:"multiplier" validate:"gte=1"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gte=0"`
	Jitter      bool          `yaml:"jitter"`
}

// DefaultPolicy returns three attempts starting at one second, doubling up
// to ten seconds, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// Backoff returns the un-jittered delay after the given number of completed
// attempts: min(base * multiplier^(attempts-1), max).
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// State is the transient retry state of one call.
type State struct {
	Attempt   int
	LastKind  provider.Kind
	NextDelay time.Duration
}

// StopReason says why Decide chose not to retry.
type StopReason string

const (
	StopNone         StopReason = ""
	StopNotRetryable StopReason = "not_retryable"
	StopExhausted    StopReason = "exhausted"
	StopDeadline     StopReason = "deadline"
)

// Decision is the output of Decide.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason StopReason
}

// Decide classifies err after s.Attempt completed attempts and returns
// whether to retry and how long to wait. jitter must be in [0, 1) and scales
// a random offset in [0, delay). A zero deadline means none.
func Decide(p Policy, s State, err error, now, deadline time.Time, jitter float64) Decision {
	if err == nil {
		return Decision{}
	}
	if !provider.KindOf(err).Retryable() {
		return Decision{Reason: StopNotRetryable}
	}
	if s.Attempt >= p.MaxAttempts {
		return Decision{Reason: StopExhausted}
	}

	delay := p.Backoff(s.Attempt)
	if p.Jitter && jitter > 0 && jitter < 1 {
		// saturate instead of wrapping negative
		if j := time.Duration(jitter * float64(delay)); delay+j > delay {
			delay += j
		}
	}
	if ra := provider.RetryAfterOf(err); ra > delay {
		delay = ra
	}
	if !deadline.IsZero() && !now.Add(delay).Before(deadline) {
		return Decision{Delay: delay, Reason: StopDeadline}
	}
	return Decision{Retry: true, Delay: delay}
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last error so provider.KindOf still reports the
// original kind.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Controller runs attempts according to a Policy.
type Controller struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
	rand   func() float64
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleep replaces the sleep function, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(c *Controller) { c.rand = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) { c.now = fn }
}

// WithLogger sets the logger used for retry decisions.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a Controller. A zero MaxAttempts falls back to DefaultPolicy.
func New(p Policy, opts ...Option) *Controller {
	if p.MaxAttempts <= 0 {
		p = DefaultPolicy()
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	c := &Controller{
		policy: p,
		sleep:  sleepContext,
		rand:   rand.Float64,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy returns the controller's policy.
func (c *Controller) Policy() Policy { return c.policy }

// Do calls fn until it succeeds, fails with a non-retryable error, runs out
// of attempts, or the deadline of ctx leaves no room for another attempt.
// ctx bounds only the waits between attempts; fn decides which context its
// own call runs under. Do returns the number of attempts made.
func (c *Controller) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	deadline, _ := ctx.Deadline()
	var st State
	var lastErr error

	for {
		if !deadline.IsZero() && !c.now().Before(deadline) {
			if lastErr == nil {
				return st.Attempt, ErrDeadline
			}
			return st.Attempt, fmt.Errorf("%w: %w", ErrDeadline, lastErr)
		}

		err := fn(st.Attempt + 1)
		st.Attempt++
		if err == nil {
			return st.Attempt, nil
		}
		lastErr = err
		st.LastKind = provider.KindOf(err)

		d := Decide(c.policy, st, err, c.now(), deadline, c.rand())
		switch d.Reason {
		case StopNotRetryable:
			return st.Attempt, err
		case StopExhausted:
			return st.Attempt, &ExhaustedError{Attempts: st.Attempt, Last: err}
		case StopDeadline:
			return st.Attempt, fmt.Errorf("%w: %w", ErrDeadline, err)
		}

		st.NextDelay = d.Delay
		c.logger.Debug("retrying provider call",
			zap.Int("attempt", st.Attempt),
			zap.String("kind", string(st.LastKind)),
			zap.Duration("delay", st.NextDelay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, st.NextDelay); err != nil {
			return st.Attempt, fmt.Errorf("%w: %w", ErrDeadline, lastErr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
