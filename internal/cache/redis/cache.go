// Package redis stores cached results in Redis with a TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/webscrape-engine/internal/cache"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Cache implements scrape.ResultCache on Redis strings.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New wraps a client.
func New(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get implements scrape.ResultCache.
func (c *Cache) Get(ctx context.Context, key string) (scrape.PageData, bool, error) {
	raw, err := c.client.Get(ctx, cache.HashedKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return scrape.PageData{}, false, nil
	}
	if err != nil {
		return scrape.PageData{}, false, fmt.Errorf("get cached result: %w", err)
	}
	var data scrape.PageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return scrape.PageData{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return data, true, nil
}

// Set implements scrape.ResultCache.
func (c *Cache) Set(ctx context.Context, key string, data scrape.PageData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	if err := c.client.Set(ctx, cache.HashedKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached result: %w", err)
	}
	return nil
}
