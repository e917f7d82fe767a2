package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newBudget(t *testing.T) (*Budget, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour), mr, client
}

func TestTakeSeedsOnceAndExhausts(t *testing.T) {
	t.Parallel()

	b, mr, _ := newBudget(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := b.Take(ctx, "root", 2)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := b.Take(ctx, "root", 2)
	require.NoError(t, err)
	require.False(t, ok, "a later seed must not refill an exhausted root")

	got, err := mr.Get("crawl:budget:root")
	require.NoError(t, err)
	require.Equal(t, "0", got)
	require.True(t, mr.TTL("crawl:budget:root") > 0)
}

func TestBudgetSharedAcrossInstances(t *testing.T) {
	t.Parallel()

	first, _, client := newBudget(t)
	second := New(client, time.Hour)
	ctx := context.Background()

	ok, err := first.Take(ctx, "root", 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = second.Take(ctx, "root", 9)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = second.Take(ctx, "root", 9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRefund(t *testing.T) {
	t.Parallel()

	b, mr, _ := newBudget(t)
	ctx := context.Background()

	require.NoError(t, b.Refund(ctx, "unknown"))
	require.False(t, mr.Exists("crawl:budget:unknown"))

	ok, err := b.Take(ctx, "root", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, b.Refund(ctx, "root"))
	ok, err = b.Take(ctx, "root", 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRootsExpire(t *testing.T) {
	t.Parallel()

	b, mr, _ := newBudget(t)
	ctx := context.Background()

	ok, err := b.Take(ctx, "root", 1)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Hour)
	require.False(t, mr.Exists("crawl:budget:root"))
}

func TestTakeError(t *testing.T) {
	t.Parallel()

	b, mr, _ := newBudget(t)
	mr.SetError("LOADING")
	_, err := b.Take(context.Background(), "root", 1)
	require.ErrorContains(t, err, "take crawl budget root")
}
