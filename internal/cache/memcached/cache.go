// Package memcached stores cached results in memcached.
package memcached

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/JakeFAU/webscrape-engine/internal/cache"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

type client interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// Cache implements scrape.ResultCache on memcached.
type Cache struct {
	client client
	ttl    time.Duration
}

// New connects to the comma-separated server list and pings it.
func New(servers string, ttl time.Duration) (*Cache, error) {
	ss := new(memcache.ServerList)
	var addrs []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			addrs = append(addrs, s)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("memcached servers are required")
	}
	if err := ss.SetServers(addrs...); err != nil {
		return nil, fmt.Errorf("set memcached servers: %w", err)
	}
	mc := memcache.NewFromSelector(ss)
	if err := mc.Ping(); err != nil {
		return nil, fmt.Errorf("ping memcached: %w", err)
	}
	return &Cache{client: mc, ttl: ttl}, nil
}

// Get implements scrape.ResultCache.
func (c *Cache) Get(_ context.Context, key string) (scrape.PageData, bool, error) {
	item, err := c.client.Get(cache.HashedKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return scrape.PageData{}, false, nil
	}
	if err != nil {
		return scrape.PageData{}, false, fmt.Errorf("get cached result: %w", err)
	}
	var data scrape.PageData
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return scrape.PageData{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return data, true, nil
}

// Set implements scrape.ResultCache.
func (c *Cache) Set(_ context.Context, key string, data scrape.PageData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	item := &memcache.Item{
		Key:        cache.HashedKey(key),
		Value:      raw,
		Expiration: int32(c.ttl.Seconds()),
	}
	if err := c.client.Set(item); err != nil {
		return fmt.Errorf("set cached result: %w", err)
	}
	return nil
}
