package memcached

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{items: map[string]*memcache.Item{}}
	c := &Cache{client: fake, ttl: 90 * time.Second}
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "example.com", scrape.PageData{Title: "Example"}))
	got, ok, err := c.Get(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Example", got.Title)

	for _, item := range fake.items {
		require.Equal(t, int32(90), item.Expiration)
		require.LessOrEqual(t, len(item.Key), 250)
	}
}

func TestCacheErrors(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{items: map[string]*memcache.Item{}, err: errors.New("server down")}
	c := &Cache{client: fake, ttl: time.Minute}
	_, _, err := c.Get(context.Background(), "k")
	require.ErrorContains(t, err, "server down")
	require.ErrorContains(t, c.Set(context.Background(), "k", scrape.PageData{}), "server down")
}

func TestNewRejectsEmptyServers(t *testing.T) {
	t.Parallel()

	_, err := New("", time.Minute)
	require.Error(t, err)
}

// --- fakes ---

type fakeClient struct {
	mu    sync.Mutex
	items map[string]*memcache.Item
	err   error
}

func (f *fakeClient) Get(key string) (*memcache.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (f *fakeClient) Set(item *memcache.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items[item.Key] = item
	return nil
}
