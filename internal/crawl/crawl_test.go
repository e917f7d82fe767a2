package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

func TestBudgetConcurrentTake(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewMemoryBudget(time.Hour)
	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := b.Take(ctx, "root", 10)
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(10), granted.Load())
	require.Equal(t, int64(0), b.Remaining("root"))

	require.NoError(t, b.Refund(ctx, "root"))
	ok, err := b.Take(ctx, "root", 10)
	require.NoError(t, err)
	require.True(t, ok, "an exhausted root is not reseeded")
	ok, err = b.Take(ctx, "root", 10)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = b.Take(ctx, "empty", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBudgetRootsExpire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewMemoryBudget(time.Minute)
	b.now = func() time.Time { return now }

	_, err := b.Take(ctx, "old", 3)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())

	now = now.Add(2 * time.Minute)
	_, err = b.Take(ctx, "new", 3)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
	require.Zero(t, b.Remaining("old"))
	require.Equal(t, int64(2), b.Remaining("new"))
}

func TestChildOptions(t *testing.T) {
	t.Parallel()

	child := ChildOptions(scrape.Options{Recursive: true, MaxDepth: 2, MaxPages: 10})
	require.True(t, child.Recursive)
	require.Equal(t, 1, child.MaxDepth)
	require.Equal(t, 9, child.MaxPages)

	leaf := ChildOptions(child)
	require.False(t, leaf.Recursive, "depth 0 children never recurse")
	require.Equal(t, 0, leaf.WithDefaults().MaxDepth, "defaults must not re-enable recursion")
}

func TestExpandFanOutAndDepth(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	e := NewExpander(sub, NewMemoryBudget(0), 3, zap.NewNop())
	parent := scrape.Job{
		ID:      "root",
		URL:     "https://example.com/",
		Options: scrape.Options{Recursive: true, MaxDepth: 1, MaxPages: 10},
	}
	links := []string{
		"https://example.com",
		"https://example.com/a",
		"https://example.com/a/",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}

	ids := e.Expand(context.Background(), parent, links)
	require.Len(t, ids, 3)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}, sub.urls())
	for _, req := range sub.requests {
		require.Equal(t, "root", req.RootID)
		require.Equal(t, "root", req.ParentID)
		require.Equal(t, 0, req.Options.MaxDepth)
		require.False(t, req.Options.Recursive)
	}

	leaf := scrape.Job{ID: "leaf", RootID: "root", Options: sub.requests[0].Options}
	require.Empty(t, e.Expand(context.Background(), leaf, links), "depth 0 stops recursion")
}

func TestExpandSharedBudget(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	budget := NewMemoryBudget(0)
	e := NewExpander(sub, budget, 5, zap.NewNop())
	root := scrape.Job{ID: "r", URL: "https://x.test/", Options: scrape.Options{Recursive: true, MaxDepth: 3, MaxPages: 4}}

	first := e.Expand(context.Background(), root, []string{"https://x.test/1", "https://x.test/2"})
	require.Len(t, first, 2)

	child := scrape.Job{ID: first[0], RootID: "r", URL: "https://x.test/1", Options: sub.requests[0].Options}
	second := e.Expand(context.Background(), child, []string{"https://x.test/3", "https://x.test/4", "https://x.test/5"})
	require.Len(t, second, 1, "root counts as one page, so 4 pages leave room for 3 children")
	require.Equal(t, int64(0), budget.Remaining("r"))
}

func TestExpandDescendantSeedsUnknownRoot(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	budget := NewMemoryBudget(0)
	e := NewExpander(sub, budget, 5, zap.NewNop())
	child := scrape.Job{
		ID:      "c1",
		RootID:  "r",
		URL:     "https://x.test/1",
		Options: scrape.Options{Recursive: true, MaxDepth: 1, MaxPages: 9},
	}

	ids := e.Expand(context.Background(), child, []string{"https://x.test/2", "https://x.test/3"})
	require.Len(t, ids, 2)
	require.Equal(t, int64(6), budget.Remaining("r"))
	for _, req := range sub.requests {
		require.Equal(t, "r", req.RootID)
	}
}

func TestExpandChildFailureRefunds(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{failOn: "https://x.test/bad"}
	budget := NewMemoryBudget(0)
	e := NewExpander(sub, budget, 5, zap.NewNop())
	root := scrape.Job{ID: "r", URL: "https://x.test/", Options: scrape.Options{Recursive: true, MaxDepth: 1, MaxPages: 3}}

	ids := e.Expand(context.Background(), root, []string{"https://x.test/bad", "https://x.test/ok1", "https://x.test/ok2"})
	require.Len(t, ids, 2)
	require.Equal(t, int64(0), budget.Remaining("r"))
}

func TestExpandNotRecursive(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	e := NewExpander(sub, nil, 0, nil)
	require.Nil(t, e.Expand(context.Background(), scrape.Job{ID: "x"}, []string{"https://a.test/"}))
	require.Empty(t, sub.requests)
}

// --- fakes ---

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []ChildRequest
	failOn   string
}

func (f *fakeSubmitter) SubmitChild(_ context.Context, req ChildRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.URL == f.failOn {
		return "", errors.New("quota exceeded")
	}
	f.requests = append(f.requests, req)
	return fmt.Sprintf("child-%d", len(f.requests)), nil
}

func (f *fakeSubmitter) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.URL)
	}
	return out
}
