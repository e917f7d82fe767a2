// Package cache holds result cache backends. Each satisfies scrape.ResultCache,
// storing PageData as JSON under scrape.CacheKey keys.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix namespaces result entries in shared stores.
const Prefix = "scrape:result:"

// HashedKey maps an arbitrary cache key to a fixed-length, whitespace-free form.
func HashedKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return Prefix + hex.EncodeToString(sum[:])
}
