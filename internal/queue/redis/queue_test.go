package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

func newQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := New(client, "")
	q.pollTimeout = 50 * time.Millisecond
	return q, mr
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{JobID: "first"}))
	require.NoError(t, q.Enqueue(ctx, scrape.QueueItem{JobID: "second"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", item.JobID)
	item, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", item.JobID)
}

func TestQueueDequeueHonorsCancel(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueBadPayload(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t)
	_, err := mr.Lpush(DefaultKey, "not-json")
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background())
	require.Error(t, err)
}
