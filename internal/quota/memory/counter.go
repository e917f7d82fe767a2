// Package memory keeps quota counters in process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/webscrape-engine/internal/quota"
)

// Counter is a mutex-guarded map of usage counts.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// New creates an empty Counter.
func New() *Counter {
	return &Counter{counts: make(map[string]int64)}
}

// Reserve implements quota.Counter.
func (c *Counter) Reserve(_ context.Context, identity string, kind quota.Kind, limit int64, now time.Time) (bool, error) {
	key := quota.Key(identity, kind, now)
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && c.counts[key] >= limit {
		return false, nil
	}
	c.counts[key]++
	return true, nil
}

// Release implements quota.Counter.
func (c *Counter) Release(_ context.Context, identity string, kind quota.Kind, now time.Time) error {
	key := quota.Key(identity, kind, now)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[key] > 0 {
		c.counts[key]--
	}
	return nil
}

// Usage implements quota.Counter.
func (c *Counter) Usage(_ context.Context, identity string, kind quota.Kind, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[quota.Key(identity, kind, now)], nil
}
