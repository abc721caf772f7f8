// Package ratelimit provides a sliding-window request limiter used to pace
// scrape requests against external sources.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hirewire/hirewire/errors"
)

// Limiter enforces max requests per rolling window using a sliding window
// over recorded request timestamps. A burst that exhausts the window blocks
// further requests until the oldest timestamps age out; capacity recovers
// gradually, not all at once.
type Limiter struct {
	maxPerWindow int
	window       time.Duration
	mu           sync.Mutex
	requestTimes []time.Time
	timeNow      func() time.Time // Injectable for testing
}

// NewLimiter creates a limiter allowing maxPerMinute requests per rolling
// 60 second window, using real time.
func NewLimiter(maxPerMinute int) *Limiter {
	return NewLimiterWithClock(maxPerMinute, time.Now)
}

// NewLimiterWithClock creates a limiter with an injectable clock (for testing).
func NewLimiterWithClock(maxPerMinute int, timeNow func() time.Time) *Limiter {
	return &Limiter{
		maxPerWindow: maxPerMinute,
		window:       60 * time.Second,
		requestTimes: make([]time.Time, 0, maxPerMinute),
		timeNow:      timeNow,
	}
}

// Allow records a request if capacity remains in the window.
// Returns ErrRateLimited (wrapped) when the window is exhausted.
func (r *Limiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpired(now)

	if len(r.requestTimes) >= r.maxPerWindow {
		err := errors.Wrapf(errors.ErrRateLimited, "%d requests in window (limit: %d)",
			len(r.requestTimes), r.maxPerWindow)
		err = errors.WithDetail(err, fmt.Sprintf("Window: %s", r.window))
		err = errors.WithDetail(err, fmt.Sprintf("Oldest request ages out at: %s",
			r.requestTimes[0].Add(r.window).Format(time.RFC3339)))
		return err
	}

	r.requestTimes = append(r.requestTimes, now)
	return nil
}

// Wait blocks until a request is allowed or the context is cancelled.
func (r *Limiter) Wait(ctx context.Context) error {
	for {
		if err := r.Allow(); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			// Retry after short delay
		}
	}
}

// removeExpired drops timestamps outside the sliding window.
// Must be called with lock held. Timestamps are ordered, so expired entries
// form a prefix.
func (r *Limiter) removeExpired(now time.Time) {
	cutoff := now.Add(-r.window)

	expired := 0
	for _, requestTime := range r.requestTimes {
		if !requestTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.requestTimes = r.requestTimes[expired:]
}

// Reset clears all recorded requests, restoring full capacity.
func (r *Limiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestTimes = r.requestTimes[:0]
}

// SetLimit changes the per-window ceiling. Recorded requests are retained
// so a lowered limit takes effect against the existing window.
func (r *Limiter) SetLimit(maxPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.maxPerWindow = maxPerMinute
}

// Stats returns requests currently in the window and remaining capacity.
func (r *Limiter) Stats() (inWindow int, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpired(now)

	inWindow = len(r.requestTimes)
	remaining = r.maxPerWindow - inWindow
	if remaining < 0 {
		remaining = 0
	}

	return inWindow, remaining
}
