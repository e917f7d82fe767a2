package dispatcher

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

	queuememory "github.com/JakeFAU/webscrape-engine/internal/queue/memory"
	"github.com/JakeFAU/webscrape-engine/internal/ratelimit"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
	storememory "github.com/JakeFAU/webscrape-engine/internal/storage/memory"
)

func TestDispatcherBoundsConcurrency(t *testing.T) {
	t.Parallel()

	q, store := seeded(t, 6)
	proc := newGatedProcessor()
	d := New(q, store, proc, 2, nil, zap.NewNop())
	require.Equal(t, 2, d.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, d)

	require.Eventually(t, func() bool { return proc.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return proc.active.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)

	close(proc.gate)
	require.Eventually(t, func() bool { return proc.done.Load() == 6 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(2), proc.peak.Load())

	cancel()
	waitDone(t, done)
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	d := New(queue, storememory.NewJobStore(nil), newGatedProcessor(), 1, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, d)

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not begin dequeuing")
	}
	cancel()
	waitDone(t, done)
}

func TestDispatcherDrainsClosedQueue(t *testing.T) {
	t.Parallel()

	q, store := seeded(t, 3)
	require.NoError(t, q.Close())
	proc := newGatedProcessor()
	close(proc.gate)

	d := New(q, store, proc, 4, nil, zap.NewNop())
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, int32(3), proc.done.Load())
}

func TestDispatcherSkipsUnknownJobs(t *testing.T) {
	t.Parallel()

	q, store := seeded(t, 1)
	require.NoError(t, q.Enqueue(context.Background(), scrape.QueueItem{JobID: "ghost"}))
	require.NoError(t, q.Close())
	proc := newGatedProcessor()
	close(proc.gate)

	d := New(q, store, proc, 1, nil, zap.NewNop())
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, int32(1), proc.done.Load())
}

func TestDispatcherRequeuesWhenStoreFails(t *testing.T) {
	t.Parallel()

	q, inner := seeded(t, 1)
	store := &flakyStore{JobStore: inner, failures: 2}
	proc := newGatedProcessor()
	close(proc.gate)
	d := New(q, store, proc, 1, nil, zap.NewNop(), WithRetryDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, d)

	require.Eventually(t, func() bool { return proc.done.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(3), store.calls.Load())
	require.Zero(t, q.Len())

	cancel()
	waitDone(t, done)
}

func TestDispatcherStartWindowLimitsStarts(t *testing.T) {
	t.Parallel()

	q, store := seeded(t, 3)
	proc := newGatedProcessor()
	close(proc.gate)
	d := New(q, store, proc, 3, ratelimit.NewWindow(time.Hour, 1), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, d)

	require.Eventually(t, func() bool { return proc.done.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return proc.done.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	cancel()
	waitDone(t, done)
	require.Equal(t, 2, q.Len())
}

// --- fakes ---

func seeded(t *testing.T, n int) (*queuememory.Queue, *storememory.JobStore) {
	t.Helper()
	q := queuememory.NewQueue(n + 1)
	store := storememory.NewJobStore(nil)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, store.Create(context.Background(), scrape.Job{ID: id, URL: "https://example.com/" + id}))
		require.NoError(t, q.Enqueue(context.Background(), scrape.QueueItem{JobID: id}))
	}
	return q, store
}

func runAsync(ctx context.Context, d *Dispatcher) <-chan error {
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type gatedProcessor struct {
	gate   chan struct{}
	active atomic.Int32
	peak   atomic.Int32
	done   atomic.Int32
	mu     sync.Mutex
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{gate: make(chan struct{})}
}

func (p *gatedProcessor) Process(_ context.Context, job scrape.Job) scrape.Result {
	n := p.active.Add(1)
	p.mu.Lock()
	if n > p.peak.Load() {
		p.peak.Store(n)
	}
	p.mu.Unlock()
	<-p.gate
	p.active.Add(-1)
	p.done.Add(1)
	return scrape.Succeeded(scrape.PageData{URL: job.URL})
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, scrape.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return scrape.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type flakyStore struct {
	*storememory.JobStore
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) Get(ctx context.Context, jobID string) (scrape.Job, error) {
	if s.calls.Add(1) <= s.failures {
		return scrape.Job{}, errors.New("connection reset by peer")
	}
	return s.JobStore.Get(ctx, jobID)
}
