package proxy

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotatorEmptyPool(t *testing.T) {
	t.Parallel()

	r := New(nil)
	addr, ok := r.Next()
	require.False(t, ok)
	require.Empty(t, addr)
}

func TestRotatorCooldownLastsExactlyFiveMinutes(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := New([]string{"http://a:1", "http://b:1"}, WithClock(clk), WithRand(rand.New(rand.NewSource(1))))

	r.ReportFailure("http://a:1")
	r.ReportFailure("http://a:1")
	requireSelectable(t, r, "http://a:1")

	r.ReportFailure("http://a:1")
	snap := recordFor(t, r, "http://a:1")
	require.Equal(t, clk.Now().Add(DefaultCooldown), snap.DisabledUntil)
	require.GreaterOrEqual(t, snap.ConsecutiveFailures, DefaultFailureThreshold)

	clk.Advance(DefaultCooldown - time.Second)
	for i := 0; i < 200; i++ {
		addr, ok := r.Next()
		require.True(t, ok)
		require.Equal(t, "http://b:1", addr)
	}

	clk.Advance(time.Second)
	requireSelectable(t, r, "http://a:1")
	healed := recordFor(t, r, "http://a:1")
	require.Zero(t, healed.ConsecutiveFailures)
	require.True(t, healed.DisabledUntil.IsZero())
}

func TestRotatorSuccessResetsStreak(t *testing.T) {
	t.Parallel()

	r := New([]string{"p"})
	r.ReportFailure("p")
	r.ReportFailure("p")
	r.ReportSuccess("p")
	r.ReportFailure("p")
	require.Equal(t, 1, recordFor(t, r, "p").ConsecutiveFailures)
	require.True(t, recordFor(t, r, "p").DisabledUntil.IsZero())
}

func TestRotatorAllDisabledReturnsSoonestRecovery(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := New([]string{"early", "late"}, WithClock(clk))
	for i := 0; i < 3; i++ {
		r.ReportFailure("early")
	}
	clk.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		r.ReportFailure("late")
	}

	addr, ok := r.Next()
	require.True(t, ok)
	require.Equal(t, "early", addr)
}

func TestRotatorMembershipChanges(t *testing.T) {
	t.Parallel()

	r := New([]string{"a"}, WithPolicy(2, time.Minute))
	r.Add("b")
	r.Add("b")
	r.Add("")
	require.Equal(t, 2, r.Len())
	require.True(t, r.Remove("a"))
	require.False(t, r.Remove("missing"))

	addr, ok := r.Next()
	require.True(t, ok)
	require.Equal(t, "b", addr)

	r.ReportFailure("b")
	r.ReportFailure("b")
	require.False(t, recordFor(t, r, "b").DisabledUntil.IsZero())
}

func TestRotatorConcurrentReports(t *testing.T) {
	t.Parallel()

	r := New([]string{"a", "b", "c"}, WithUserAgents([]string{"ua-1", "ua-2"}))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				addr, _ := r.Next()
				if j%2 == 0 {
					r.ReportFailure(addr)
				} else {
					r.ReportSuccess(addr)
				}
				_ = r.UserAgent()
			}
		}()
	}
	wg.Wait()
	require.Len(t, r.Snapshot(), 3)
	require.Contains(t, []string{"ua-1", "ua-2"}, r.UserAgent())
}

// --- helpers & fakes ---

func requireSelectable(t *testing.T, r *Rotator, want string) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if addr, _ := r.Next(); addr == want {
			return
		}
	}
	t.Fatalf("proxy %s was never selected", want)
}

func recordFor(t *testing.T, r *Rotator, addr string) Record {
	t.Helper()
	for _, rec := range r.Snapshot() {
		if rec.Address == addr {
			return rec
		}
	}
	t.Fatalf("proxy %s not in pool", addr)
	return Record{}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
