// Package worker executes one admitted job end to end: cache, robots,
// strategy chain under a deadline, persistence, webhook and crawl expansion.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
	"github.com/JakeFAU/webscrape-engine/internal/strategy"
	"github.com/JakeFAU/webscrape-engine/internal/webhook"
)

// Runner executes the strategy chain; *strategy.Chain satisfies it.
type Runner interface {
	Run(ctx context.Context, target strategy.Target) scrape.Result
}

// RobotsChecker gates fetches on robots.txt; *robots.Policy satisfies it.
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL string, ignore bool) bool
}

// Notifier delivers webhooks in the background; *webhook.Notifier satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, d webhook.Delivery)
}

// Expander admits crawl children; *crawl.Expander satisfies it.
type Expander interface {
	Expand(ctx context.Context, parent scrape.Job, links []string) []string
}

// Config controls Worker behavior.
type Config struct {
	JobTimeout time.Duration
	EventTopic string
}

// Deps are the Worker's collaborators. Cache, Robots, Webhooks, Expander and
// Events are optional.
type Deps struct {
	Store    scrape.JobStore
	Cache    scrape.ResultCache
	Chain    Runner
	Robots   RobotsChecker
	Webhooks Notifier
	Expander Expander
	Events   scrape.Publisher
	Clock    scrape.Clock
}

// Worker processes jobs handed to it by the dispatcher.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// DefaultJobTimeout bounds a job when Config leaves it unset.
const DefaultJobTimeout = 2 * time.Minute

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Store == nil {
		return nil, errors.New("worker: job store is required")
	}
	if deps.Chain == nil {
		return nil, errors.New("worker: strategy chain is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("worker: clock is required")
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = "scrape-jobs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// Process runs job to a terminal state and returns the final result. Panics
// are recovered and fail the job.
func (w *Worker) Process(ctx context.Context, job scrape.Job) (res scrape.Result) {
	start := w.deps.Clock.Now()
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))
	attempts := job.Attempts

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = scrape.Failed(fmt.Errorf("job panicked: %v", r))
			w.fail(ctx, job, attempts, res, logger)
		}
		state := scrape.JobStateCompleted
		if !res.Success {
			state = scrape.JobStateFailed
		}
		metrics.ObserveJob(string(state), w.deps.Clock.Now().Sub(start))
	}()

	if job.State.Terminal() {
		logger.Debug("skipping terminal job", zap.String("state", string(job.State)))
		return terminalResult(job)
	}

	key := scrape.CacheKey(job.URL)
	if data, ok := w.cached(ctx, key, job.Options, logger); ok {
		logger.Info("served from cache", zap.String("cache_key", key))
		res = scrape.Succeeded(data)
		res.Strategy = data.Strategy
		w.succeed(ctx, job, attempts, res, true, logger)
		return res
	}

	attempts++
	if err := w.deps.Store.Update(ctx, job.ID, scrape.JobUpdate{State: scrape.JobStateActive, Attempts: attempts}); err != nil {
		logger.Error("mark job active", zap.Error(err))
	}

	if w.deps.Robots != nil && !w.deps.Robots.Allowed(ctx, job.URL, job.Options.IgnoreRobotsTxt) {
		res = scrape.Failed(fmt.Errorf("%w: %s", scrape.ErrRobotsDisallowed, job.URL))
		w.fail(ctx, job, attempts, res, logger)
		return res
	}

	res = w.run(ctx, job)
	if !res.Success {
		w.fail(ctx, job, attempts, res, logger)
		return res
	}
	if w.deps.Cache != nil && !aiJob(job.Options) {
		if err := w.deps.Cache.Set(ctx, key, *res.Data); err != nil {
			logger.Warn("cache write failed", zap.Error(err))
		}
	}
	w.succeed(ctx, job, attempts, res, false, logger)
	return res
}

// run executes the chain under the hard job deadline. A deadline hit discards
// whatever the chain produced.
func (w *Worker) run(ctx context.Context, job scrape.Job) scrape.Result {
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	res := w.deps.Chain.Run(runCtx, strategy.Target{JobID: job.ID, URL: job.URL, Options: job.Options})
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return scrape.Failed(fmt.Errorf("%w: %s", scrape.ErrJobTimeout, w.cfg.JobTimeout))
	}
	if ctx.Err() != nil && !res.Success {
		return scrape.Failed(fmt.Errorf("job interrupted: %w", ctx.Err()))
	}
	if res.Success && res.Data == nil {
		failed := scrape.Failed(fmt.Errorf("%w: strategy returned no data", scrape.ErrExtraction))
		failed.Strategy = res.Strategy
		return failed
	}
	return res
}

func (w *Worker) cached(ctx context.Context, key string, opts scrape.Options, logger *zap.Logger) (scrape.PageData, bool) {
	if w.deps.Cache == nil || aiJob(opts) {
		return scrape.PageData{}, false
	}
	data, ok, err := w.deps.Cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", zap.Error(err))
		return scrape.PageData{}, false
	}
	metrics.ObserveCache(ok)
	return data, ok
}

func (w *Worker) succeed(ctx context.Context, job scrape.Job, attempts int, res scrape.Result, fromCache bool, logger *zap.Logger) {
	persistCtx := context.WithoutCancel(ctx)
	if err := w.deps.Store.Update(persistCtx, job.ID, scrape.JobUpdate{
		State:    scrape.JobStateCompleted,
		Attempts: attempts,
		Result:   res.Data,
	}); err != nil {
		logger.Error("mark job completed", zap.Error(err))
	}
	logger.Info("job completed",
		zap.String("strategy", res.Strategy),
		zap.String("tier", string(res.Data.Tier)),
		zap.Bool("cached", fromCache),
	)
	w.publish(persistCtx, job, attempts, res, fromCache, logger)

	if w.deps.Webhooks != nil && job.Options.Webhook != "" {
		w.deps.Webhooks.Dispatch(ctx, webhook.Delivery{
			JobID:  job.ID,
			URL:    job.URL,
			Target: job.Options.Webhook,
			Secret: job.Options.WebhookSecret,
			Data:   res.Data,
		})
	}
	if w.deps.Expander != nil && job.Options.Recursive && len(res.Data.Links) > 0 {
		children := w.deps.Expander.Expand(ctx, job, res.Data.Links)
		logger.Debug("crawl expanded", zap.Int("children", len(children)))
	}
}

func (w *Worker) fail(ctx context.Context, job scrape.Job, attempts int, res scrape.Result, logger *zap.Logger) {
	persistCtx := context.WithoutCancel(ctx)
	if err := w.deps.Store.Update(persistCtx, job.ID, scrape.JobUpdate{
		State:     scrape.JobStateFailed,
		Attempts:  attempts,
		Error:     res.Error,
		ErrorCode: res.Code,
	}); err != nil {
		logger.Error("mark job failed", zap.Error(err))
	}
	logger.Warn("job failed",
		zap.String("strategy", res.Strategy),
		zap.String("code", string(res.Code)),
		zap.String("error", res.Error),
	)
	w.publish(persistCtx, job, attempts, res, false, logger)
}

func (w *Worker) publish(ctx context.Context, job scrape.Job, attempts int, res scrape.Result, fromCache bool, logger *zap.Logger) {
	if w.deps.Events == nil {
		return
	}
	event := scrape.JobEvent{
		JobID:      job.ID,
		URL:        job.URL,
		State:      scrape.JobStateFailed,
		Attempts:   attempts,
		Strategy:   res.Strategy,
		Cached:     fromCache,
		ErrorCode:  res.Code,
		Error:      res.Error,
		ParentID:   job.ParentID,
		RootID:     job.RootID,
		FinishedAt: w.deps.Clock.Now(),
	}
	if res.Success {
		event.State = scrape.JobStateCompleted
		event.Tier = res.Data.Tier
	}
	if _, err := w.deps.Events.Publish(ctx, w.cfg.EventTopic, event); err != nil {
		logger.Warn("publish job event", zap.Error(err))
	}
}

func aiJob(opts scrape.Options) bool {
	return opts.UseAI || opts.LLMOnly
}

func terminalResult(job scrape.Job) scrape.Result {
	if job.State == scrape.JobStateCompleted && job.Result != nil {
		return scrape.Succeeded(*job.Result)
	}
	return scrape.Result{Success: false, Error: job.Error, Code: job.ErrorCode}
}
