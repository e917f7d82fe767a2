// Package memory keeps forensic artifacts in-process for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/JakeFAU/webscrape-engine/internal/artifacts"
)

// Object is one stored artifact.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore stores artifacts in a map and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string]Object
}

// NewBlobStore creates an empty store.
func NewBlobStore(prefix string) *BlobStore {
	return &BlobStore{prefix: prefix, objects: make(map[string]Object)}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, key string, contentType string, data io.Reader) (string, error) {
	name, err := artifacts.ObjectPath(s.prefix, key)
	if err != nil {
		return "", err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	s.mu.Lock()
	s.objects[name] = Object{ContentType: contentType, Data: body}
	s.mu.Unlock()
	return "memory://" + name, nil
}

// Get returns a stored artifact by full object name.
func (s *BlobStore) Get(name string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	return obj, ok
}

// Keys lists stored object names in order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
