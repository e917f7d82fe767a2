// Package redis stores quota counters in Redis, keyed by identity, kind and month.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/webscrape-engine/internal/quota"
)

// counterTTL outlives the longest month so stale periods expire on their own.
const counterTTL = 35 * 24 * time.Hour

// reserveScript increments KEYS[1] unless it would exceed ARGV[1] (0 = unlimited).
var reserveScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if limit > 0 and current >= limit then
  return 0
end
redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// Counter implements quota.Counter on Redis.
type Counter struct {
	client redis.UniversalClient
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Counter {
	return &Counter{client: client}
}

// Reserve implements quota.Counter.
func (c *Counter) Reserve(ctx context.Context, identity string, kind quota.Kind, limit int64, now time.Time) (bool, error) {
	key := quota.Key(identity, kind, now)
	res, err := reserveScript.Run(ctx, c.client, []string{key}, limit, counterTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("reserve quota %s: %w", key, err)
	}
	return res == 1, nil
}

// Release implements quota.Counter.
func (c *Counter) Release(ctx context.Context, identity string, kind quota.Kind, now time.Time) error {
	key := quota.Key(identity, kind, now)
	n, err := c.client.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("release quota %s: %w", key, err)
	}
	if n < 0 {
		if err := c.client.Set(ctx, key, 0, counterTTL).Err(); err != nil {
			return fmt.Errorf("reset quota %s: %w", key, err)
		}
	}
	return nil
}

// Usage implements quota.Counter.
func (c *Counter) Usage(ctx context.Context, identity string, kind quota.Kind, now time.Time) (int64, error) {
	key := quota.Key(identity, kind, now)
	n, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota %s: %w", key, err)
	}
	return n, nil
}
