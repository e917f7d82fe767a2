// Package memory provides an in-process result cache with TTL expiry.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Cache wraps go-cache.
type Cache struct {
	store *gocache.Cache
	ttl   time.Duration
}

// New creates a cache whose entries expire after ttl. Expired entries are swept every ttl.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{store: gocache.New(ttl, ttl), ttl: ttl}
}

// Get implements scrape.ResultCache.
func (c *Cache) Get(_ context.Context, key string) (scrape.PageData, bool, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return scrape.PageData{}, false, nil
	}
	data, ok := v.(scrape.PageData)
	if !ok {
		c.store.Delete(key)
		return scrape.PageData{}, false, nil
	}
	return data, true, nil
}

// Set implements scrape.ResultCache.
func (c *Cache) Set(_ context.Context, key string, data scrape.PageData) error {
	c.store.Set(key, data, c.ttl)
	return nil
}

// Len reports stored entries, including expired ones not yet swept.
func (c *Cache) Len() int { return c.store.ItemCount() }
