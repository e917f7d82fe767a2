// Package proxy tracks egress proxy health and picks a proxy per browser session.
package proxy

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Defaults for the health policy.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
)

// Record is the health state of one proxy.
type Record struct {
	Address             string    `json:"address"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DisabledUntil       time.Time `json:"disabled_until"`
	LastUsedAt          time.Time `json:"last_used_at"`
}

// Disabled reports whether the record is cooling down at now.
func (r Record) Disabled(now time.Time) bool {
	return now.Before(r.DisabledUntil)
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithClock injects the time source.
func WithClock(c scrape.Clock) Option {
	return func(r *Rotator) { r.clock = c }
}

// WithRand injects the random source used for uniform selection.
func WithRand(src *rand.Rand) Option {
	return func(r *Rotator) { r.rand = src }
}

// WithPolicy overrides the failure threshold and cooldown.
func WithPolicy(threshold int, cooldown time.Duration) Option {
	return func(r *Rotator) {
		if threshold > 0 {
			r.threshold = threshold
		}
		if cooldown > 0 {
			r.cooldown = cooldown
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rotator) { r.logger = l }
}

// WithUserAgents seeds the user-agent pool returned by UserAgent.
func WithUserAgents(agents []string) Option {
	return func(r *Rotator) { r.userAgents = append([]string(nil), agents...) }
}

// Rotator selects healthy proxies. Counters are last-writer-wins under a
// single mutex; membership can change while workers are running.
type Rotator struct {
	mu         sync.Mutex
	records    []*Record
	userAgents []string
	clock      scrape.Clock
	rand       *rand.Rand
	threshold  int
	cooldown   time.Duration
	logger     *zap.Logger
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New creates a Rotator seeded with addresses.
func New(addresses []string, opts ...Option) *Rotator {
	r := &Rotator{
		clock:     wallClock{},
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // selection, not crypto
		threshold: DefaultFailureThreshold,
		cooldown:  DefaultCooldown,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, addr := range addresses {
		r.addLocked(addr)
	}
	return r
}

// Next returns the proxy to use for the next session. The bool is false when
// the pool is empty and the caller should proceed without a proxy.
func (r *Rotator) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) == 0 {
		return "", false
	}
	now := r.clock.Now()
	r.healLocked(now)

	available := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		if !rec.Disabled(now) {
			available = append(available, rec)
		}
	}

	var pick *Record
	if len(available) > 0 {
		pick = available[r.rand.Intn(len(available))]
	} else {
		// Everything is cooling down; degrade to the one that recovers first.
		pick = r.records[0]
		for _, rec := range r.records[1:] {
			if rec.DisabledUntil.Before(pick.DisabledUntil) {
				pick = rec
			}
		}
	}
	pick.LastUsedAt = now
	return pick.Address, true
}

// ReportSuccess resets the failure streak for address.
func (r *Rotator) ReportSuccess(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.findLocked(address); rec != nil {
		rec.ConsecutiveFailures = 0
	}
}

// ReportFailure extends the failure streak and starts a cooldown at the threshold.
func (r *Rotator) ReportFailure(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.findLocked(address)
	if rec == nil {
		return
	}
	now := r.clock.Now()
	r.healLocked(now)
	rec.ConsecutiveFailures++
	if rec.ConsecutiveFailures >= r.threshold && !rec.Disabled(now) {
		rec.DisabledUntil = now.Add(r.cooldown)
		metrics.ObserveProxyDisabled()
		r.logger.Warn("proxy disabled",
			zap.String("proxy", address),
			zap.Int("failures", rec.ConsecutiveFailures),
			zap.Time("disabled_until", rec.DisabledUntil))
	}
}

// Add registers a proxy; duplicates are ignored.
func (r *Rotator) Add(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(address)
}

// Remove drops a proxy from the pool.
func (r *Rotator) Remove(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.Address == address {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of every record.
func (r *Rotator) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healLocked(r.clock.Now())
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Len is the pool size.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// UserAgent returns a random user agent from the configured pool, or "".
func (r *Rotator) UserAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.userAgents) == 0 {
		return ""
	}
	return r.userAgents[r.rand.Intn(len(r.userAgents))]
}

// healLocked clears expired cooldowns so a disabled record only ever carries a
// streak at or above the threshold.
func (r *Rotator) healLocked(now time.Time) {
	for _, rec := range r.records {
		if !rec.DisabledUntil.IsZero() && !rec.Disabled(now) {
			rec.DisabledUntil = time.Time{}
			rec.ConsecutiveFailures = 0
		}
	}
}

func (r *Rotator) findLocked(address string) *Record {
	for _, rec := range r.records {
		if rec.Address == address {
			return rec
		}
	}
	return nil
}

func (r *Rotator) addLocked(address string) {
	if address == "" || r.findLocked(address) != nil {
		return
	}
	r.records = append(r.records, &Record{Address: address})
}
