package scrape

import (
	"context"
	"io"
	"time"
)

// JobStore persists job metadata and results.
type JobStore interface {
	// Create inserts a pending job. It returns ErrJobExists when a non-terminal job
	// with the same ID is already stored; terminal jobs are replaced.
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	Update(ctx context.Context, jobID string, update JobUpdate) error
}

// ResultCache stores completed page payloads for reuse by identical requests.
type ResultCache interface {
	Get(ctx context.Context, key string) (PageData, bool, error)
	Set(ctx context.Context, key string, data PageData) error
}

// Queue provides enqueue/dequeue semantics for admitted jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// BlobStore writes raw artifacts (screenshots, HTML snapshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests used for deterministic job IDs.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces random IDs for derived child jobs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher fans job lifecycle events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
