// Package ratelimit implements keyed token buckets used for admission and job starts.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per key (identity, IP, host).
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	now      func() time.Time
	idleTTL  time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIdleTTL evicts buckets untouched for ttl during Allow calls.
func WithIdleTTL(ttl time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = ttl }
}

// New creates an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*entry),
		now:      time.Now,
		idleTTL:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PerMinute converts a requests-per-minute figure into a rate and burst.
// A non-positive value disables limiting.
func PerMinute(n int) (rate.Limit, int) {
	if n <= 0 {
		return rate.Inf, 1
	}
	return rate.Every(time.Minute / time.Duration(n)), n
}

// Allow consumes one token from key's bucket, creating it with perMinute capacity on first use.
func (l *Limiter) Allow(key string, perMinute int) bool {
	now := l.now()
	l.mu.Lock()
	l.evictLocked(now)
	e, ok := l.limiters[key]
	if !ok {
		limit, burst := PerMinute(perMinute)
		e = &entry{limiter: rate.NewLimiter(limit, burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Len reports the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) evictLocked(now time.Time) {
	if l.idleTTL <= 0 {
		return
	}
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, k)
		}
	}
}

// Window is a fixed-window start limiter: at most maxStarts per window.
type Window struct {
	limiter *rate.Limiter
}

// NewWindow builds a Window; non-positive arguments produce an unlimited window.
func NewWindow(window time.Duration, maxStarts int) *Window {
	if window <= 0 || maxStarts <= 0 {
		return &Window{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Window{limiter: rate.NewLimiter(rate.Every(window/time.Duration(maxStarts)), maxStarts)}
}

// Wait blocks until a start slot is available.
func (w *Window) Wait(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("start window wait: %w", err)
	}
	return nil
}
