// Package dispatcher fans queued jobs out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/queue"
	"github.com/JakeFAU/webscrape-engine/internal/ratelimit"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Processor runs one job to completion; *worker.Worker satisfies it.
type Processor interface {
	Process(ctx context.Context, job scrape.Job) scrape.Result
}

// Dispatcher holds N slots. A slot is acquired before dequeuing so no job
// leaves the queue without a worker ready for it.
type Dispatcher struct {
	queue     scrape.Queue
	store     scrape.JobStore
	processor Processor
	slots     *semaphore.Weighted
	size      int
	starts    *ratelimit.Window
	logger    *zap.Logger
	// retryDelay pauses the loop after a job could not be loaded and was requeued.
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// DefaultRetryDelay is the pause after a failed job load.
const DefaultRetryDelay = time.Second

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRetryDelay sets the pause after a failed job load.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelay = delay }
}

// New creates a Dispatcher with size slots. starts may be nil for unlimited job starts.
func New(q scrape.Queue, store scrape.JobStore, processor Processor, size int, starts *ratelimit.Window, logger *zap.Logger, opts ...Option) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if starts == nil {
		starts = ratelimit.NewWindow(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:      q,
		store:      store,
		processor:  processor,
		slots:      semaphore.NewWeighted(int64(size)),
		size:       size,
		starts:     starts,
		logger:     logger,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Size reports the number of worker slots.
func (d *Dispatcher) Size() int { return d.size }

// Run dequeues until ctx ends or the queue closes, then waits for in-flight
// jobs. Jobs run detached from ctx so shutdown lets them finish under their
// own deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	metrics.SetPoolSize(d.size)
	d.logger.Info("dispatcher started", zap.Int("workers", d.size))
	defer d.wg.Wait()

	jobCtx := context.WithoutCancel(ctx)
	for {
		if err := d.slots.Acquire(ctx, 1); err != nil {
			return nil
		}
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.slots.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				d.logger.Info("queue closed; dispatcher draining")
				return nil
			}
			d.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if err := d.starts.Wait(ctx); err != nil {
			d.slots.Release(1)
			d.requeue(jobCtx, item)
			return nil
		}
		job, err := d.store.Get(ctx, item.JobID)
		if err != nil {
			d.slots.Release(1)
			if errors.Is(err, scrape.ErrJobNotFound) {
				d.logger.Warn("dropping queued job without a record", zap.String("job_id", item.JobID))
				continue
			}
			d.logger.Error("load queued job; requeueing", zap.String("job_id", item.JobID), zap.Error(err))
			d.requeue(jobCtx, item)
			if !d.pause(ctx) {
				return nil
			}
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.slots.Release(1)
			d.processor.Process(jobCtx, job)
		}()
	}
}

// requeue returns a dequeued item that did not start.
func (d *Dispatcher) requeue(ctx context.Context, item scrape.QueueItem) {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.logger.Warn("requeue failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

// pause waits retryDelay. It reports false when ctx ended first.
func (d *Dispatcher) pause(ctx context.Context) bool {
	if d.retryDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
