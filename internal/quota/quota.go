// Package quota resolves per-plan limits and tracks monthly usage.
package quota

import (
	"context"
	"fmt"
	"time"
)

// Kind distinguishes usage counters.
type Kind string

// Counted usage kinds.
const (
	KindPages Kind = "pages"
	KindAI    Kind = "ai"
)

// Plan is one row of the plan table. A non-positive limit means unlimited.
type Plan struct {
	Name               string
	MonthlyPages       int64
	MonthlyAI          int64
	RateLimitPerMinute int
}

// Limit returns the monthly limit for kind.
func (p Plan) Limit(kind Kind) int64 {
	switch kind {
	case KindAI:
		return p.MonthlyAI
	default:
		return p.MonthlyPages
	}
}

// Table maps plan names to limits.
type Table struct {
	plans       map[string]Plan
	defaultPlan string
}

// NewTable builds a Table; defaultPlan must exist in plans.
func NewTable(plans map[string]Plan, defaultPlan string) (*Table, error) {
	if _, ok := plans[defaultPlan]; !ok {
		return nil, fmt.Errorf("default plan %q not in table", defaultPlan)
	}
	copied := make(map[string]Plan, len(plans))
	for name, p := range plans {
		p.Name = name
		copied[name] = p
	}
	return &Table{plans: copied, defaultPlan: defaultPlan}, nil
}

// Lookup returns the named plan, falling back to the default plan.
func (t *Table) Lookup(name string) Plan {
	if p, ok := t.plans[name]; ok {
		return p
	}
	return t.plans[t.defaultPlan]
}

// Counter reserves usage atomically against a limit.
type Counter interface {
	// Reserve increments identity's usage of kind for now's month if it stays within limit.
	Reserve(ctx context.Context, identity string, kind Kind, limit int64, now time.Time) (bool, error)
	// Release undoes one reservation.
	Release(ctx context.Context, identity string, kind Kind, now time.Time) error
	// Usage reports the current month's usage.
	Usage(ctx context.Context, identity string, kind Kind, now time.Time) (int64, error)
}

// Period renders the calendar month bucket for t.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Key renders the counter key shared by backends.
func Key(identity string, kind Kind, now time.Time) string {
	return fmt.Sprintf("quota:%s:%s:%s", identity, kind, Period(now))
}
