// Package ratelimit bounds outgoing API calls with a sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter allows at most permits calls in any trailing period.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	permits int
	period  time.Duration
	clock   clockwork.Clock
	calls   []time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// New creates a limiter admitting permits calls per period.
func New(permits int, period time.Duration, opts ...Option) (*Limiter, error) {
	if permits <= 0 {
		return nil, fmt.Errorf("permits must be greater than 0, got %d", permits)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be greater than 0, got %s", period)
	}
	l := &Limiter{
		permits: permits,
		period:  period,
		clock:   clockwork.NewRealClock(),
		calls:   make([]time.Time, 0, permits),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Acquire waits until a call is allowed and records it.
// A cancelled context aborts the wait without recording a call.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := l.tryAcquire()
		if wait <= 0 {
			return nil
		}

		timer := l.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}
}

// tryAcquire records a call and returns 0, or returns how long the caller has to wait
// until the oldest call leaves the window.
func (l *Limiter) tryAcquire() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.evict(now)
	if len(l.calls) < l.permits {
		l.calls = append(l.calls, now)
		return 0
	}
	return l.calls[0].Add(l.period).Sub(now)
}

// evict drops calls at or before now-period. Caller must hold mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.period)
	n := 0
	for n < len(l.calls) && !l.calls[n].After(cutoff) {
		n++
	}
	if n > 0 {
		l.calls = append(l.calls[:0], l.calls[n:]...)
	}
}

// Available returns the number of calls that would be admitted right now.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock.Now())
	return l.permits - len(l.calls)
}

// Permits returns the configured window capacity.
func (l *Limiter) Permits() int {
	return l.permits
}

// Period returns the configured window length.
func (l *Limiter) Period() time.Duration {
	return l.period
}
