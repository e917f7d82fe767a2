// Package redis keeps crawl page budgets in Redis so every replica draws from
// the same counter.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/webscrape-engine/internal/crawl"
)

const keyPrefix = "crawl:budget:"

// takeScript seeds KEYS[1] with ARGV[1] when missing, then claims one page.
// The key's TTL (ARGV[2] ms) is refreshed on every call.
var takeScript = redis.NewScript(`
local remaining = tonumber(redis.call("GET", KEYS[1]) or ARGV[1])
if remaining <= 0 then
  redis.call("SET", KEYS[1], remaining, "PX", ARGV[2])
  return 0
end
redis.call("SET", KEYS[1], remaining - 1, "PX", ARGV[2])
return 1
`)

// refundScript returns one page to an existing root.
var refundScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return 1
`)

// Budget implements crawl.Budget on Redis.
type Budget struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ crawl.Budget = (*Budget)(nil)

// New wraps an existing client. ttl <= 0 uses crawl.DefaultBudgetTTL.
func New(client redis.UniversalClient, ttl time.Duration) *Budget {
	if ttl <= 0 {
		ttl = crawl.DefaultBudgetTTL
	}
	return &Budget{client: client, ttl: ttl}
}

// Take implements crawl.Budget.
func (b *Budget) Take(ctx context.Context, rootID string, seed int64) (bool, error) {
	res, err := takeScript.Run(ctx, b.client, []string{keyPrefix + rootID}, seed, b.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("take crawl budget %s: %w", rootID, err)
	}
	return res == 1, nil
}

// Refund implements crawl.Budget.
func (b *Budget) Refund(ctx context.Context, rootID string) error {
	if err := refundScript.Run(ctx, b.client, []string{keyPrefix + rootID}, b.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("refund crawl budget %s: %w", rootID, err)
	}
	return nil
}
