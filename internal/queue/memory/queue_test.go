package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscrape-engine/internal/queue"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan scrape.QueueItem, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			result <- item
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), scrape.QueueItem{JobID: "job-1"}))
	select {
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), scrape.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, full.Len())
	err = full.Enqueue(ctx, scrape.QueueItem{JobID: "blocked"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), scrape.QueueItem{JobID: "a"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	require.ErrorIs(t, q.Enqueue(context.Background(), scrape.QueueItem{JobID: "b"}), queue.ErrClosed)
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", item.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
}
