// Package crawl expands a completed page into child jobs under a shared page budget.
package crawl

import (
	"context"
	"sync"
	"time"
)

// DefaultBudgetTTL bounds how long an idle crawl root keeps its counter.
const DefaultBudgetTTL = 24 * time.Hour

// Budget tracks remaining pages per crawl root. Every job in a crawl tree draws
// from its root's counter, so siblings cannot overshoot the root's maxPages.
type Budget interface {
	// Take claims one page from rootID. An unknown root is first seeded with
	// seed pages, so a descendant running on another process can resume the crawl.
	Take(ctx context.Context, rootID string, seed int64) (bool, error)
	// Refund returns a page claimed by a child that was never admitted.
	Refund(ctx context.Context, rootID string) error
}

type memoryRoot struct {
	remaining int64
	expires   time.Time
}

// MemoryBudget is a single-process Budget. Roots idle for longer than the TTL are dropped.
type MemoryBudget struct {
	mu    sync.Mutex
	roots map[string]*memoryRoot
	ttl   time.Duration
	now   func() time.Time
}

var _ Budget = (*MemoryBudget)(nil)

// NewMemoryBudget creates an empty MemoryBudget. ttl <= 0 uses DefaultBudgetTTL.
func NewMemoryBudget(ttl time.Duration) *MemoryBudget {
	if ttl <= 0 {
		ttl = DefaultBudgetTTL
	}
	return &MemoryBudget{roots: make(map[string]*memoryRoot), ttl: ttl, now: time.Now}
}

// rootLocked returns rootID's counter, seeding it when absent or expired.
func (b *MemoryBudget) rootLocked(rootID string, seed int64, now time.Time) *memoryRoot {
	for id, r := range b.roots {
		if now.After(r.expires) {
			delete(b.roots, id)
		}
	}
	r, ok := b.roots[rootID]
	if !ok {
		r = &memoryRoot{remaining: seed}
		b.roots[rootID] = r
	}
	r.expires = now.Add(b.ttl)
	return r
}

// Take implements Budget.
func (b *MemoryBudget) Take(_ context.Context, rootID string, seed int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rootLocked(rootID, seed, b.now())
	if r.remaining <= 0 {
		return false, nil
	}
	r.remaining--
	return true, nil
}

// Refund implements Budget.
func (b *MemoryBudget) Refund(_ context.Context, rootID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.roots[rootID]; ok {
		r.remaining++
	}
	return nil
}

// Remaining reports rootID's unclaimed pages, or zero for an unknown root.
func (b *MemoryBudget) Remaining(rootID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.roots[rootID]; ok {
		return r.remaining
	}
	return 0
}

// Len reports how many roots are tracked.
func (b *MemoryBudget) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.roots)
}
