// Package redis implements a durable job queue on a Redis list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// DefaultKey is the list holding queued items.
const DefaultKey = "scrape:queue"

// Queue pushes on the left and pops from the right (FIFO).
type Queue struct {
	client      redis.UniversalClient
	key         string
	pollTimeout time.Duration
}

// New wraps a client. An empty key uses DefaultKey.
func New(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key, pollTimeout: time.Second}
}

// Enqueue implements scrape.Queue.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

// Dequeue blocks until an item arrives or ctx ends. BRPOP is issued in short
// rounds so cancellation is noticed promptly.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return scrape.QueueItem{}, fmt.Errorf("brpop %s: %w", q.key, err)
		}
		// res is [key, value].
		var item scrape.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return scrape.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len reports the list length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}
