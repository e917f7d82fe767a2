// Package memory keeps job metadata in process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// JobStore provides an in-memory scrape.JobStore for development and tests.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore. A nil clock uses wall time.
func NewJobStore(clock scrape.Clock) *JobStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{jobs: make(map[string]scrape.Job), now: now}
}

// Create stores a pending job, replacing a terminal one with the same id.
func (s *JobStore) Create(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok && !existing.State.Terminal() {
		return fmt.Errorf("create job %s: %w", job.ID, scrape.ErrJobExists)
	}
	if job.State == "" {
		job.State = scrape.JobStatePending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	s.jobs[job.ID] = job
	return nil
}

// Get fetches a job by id.
func (s *JobStore) Get(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("get job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	return job, nil
}

// Update applies a partial mutation.
func (s *JobStore) Update(_ context.Context, jobID string, update scrape.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	s.jobs[jobID] = Apply(job, update, s.now())
	return nil
}

// Len reports stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Apply folds update into job. Zero Attempts and nil Result keep the stored values.
func Apply(job scrape.Job, update scrape.JobUpdate, now time.Time) scrape.Job {
	if update.State != "" {
		job.State = update.State
	}
	if update.Attempts > 0 {
		job.Attempts = update.Attempts
	}
	if update.Result != nil {
		job.Result = update.Result
	}
	job.Error = update.Error
	job.ErrorCode = update.ErrorCode
	if job.State == scrape.JobStateActive && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if job.State.Terminal() {
		job.FinishedAt = &now
	}
	return job
}
