// Package admission validates, deduplicates and meters scrape submissions
// before they reach the queue.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/crawl"
	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/quota"
	"github.com/JakeFAU/webscrape-engine/internal/ratelimit"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

const anonymousPrefix = "ip:"

// Identity is the caller a submission is charged to. An empty ID is anonymous
// and limited by IP.
type Identity struct {
	ID   string
	Plan string
	IP   string
}

// Key is the string quota and rate-limit buckets are keyed by.
func (i Identity) Key() string {
	if i.ID != "" {
		return i.ID
	}
	ip := i.IP
	if ip == "" {
		ip = "unknown"
	}
	return anonymousPrefix + ip
}

// Anonymous reports whether the caller has no account.
func (i Identity) Anonymous() bool { return i.ID == "" }

func identityFromKey(key, plan string) Identity {
	if ip, ok := strings.CutPrefix(key, anonymousPrefix); ok {
		return Identity{IP: ip, Plan: plan}
	}
	return Identity{ID: key, Plan: plan}
}

// Request is one top-level submission.
type Request struct {
	URL      string
	Options  scrape.Options
	Identity Identity
}

// Handle is returned to the caller for polling.
type Handle struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
	Existing  bool   `json:"existing"`
}

// Config holds admission knobs.
type Config struct {
	AnonymousPerMinute int
	StatusURLBase      string
}

// Deps are the collaborators an Admitter needs.
type Deps struct {
	Store   scrape.JobStore
	Queue   scrape.Queue
	Plans   *quota.Table
	Counter quota.Counter
	Limiter *ratelimit.Limiter
	Hasher  scrape.Hasher
	IDs     scrape.IDGenerator
	Clock   scrape.Clock
}

// Admitter runs the rate limit, quota, persist and enqueue sequence.
type Admitter struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	locks  *keyedMutex
}

var _ crawl.Submitter = (*Admitter)(nil)

// New validates deps and builds an Admitter.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Admitter, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("admission: job store is required")
	case deps.Queue == nil:
		return nil, errors.New("admission: queue is required")
	case deps.Plans == nil:
		return nil, errors.New("admission: plan table is required")
	case deps.Counter == nil:
		return nil, errors.New("admission: quota counter is required")
	case deps.Hasher == nil:
		return nil, errors.New("admission: hasher is required")
	case deps.IDs == nil:
		return nil, errors.New("admission: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("admission: clock is required")
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admitter{deps: deps, cfg: cfg, logger: logger, locks: newKeyedMutex()}, nil
}

// JobID derives the deterministic id for a URL and its identity-relevant options.
func (a *Admitter) JobID(rawURL string, opts scrape.Options) (string, error) {
	u, err := scrape.NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	opts = opts.WithDefaults()
	id, err := a.deps.Hasher.Hash([]byte(u.String() + "\n" + opts.IdentityKey()))
	if err != nil {
		return "", fmt.Errorf("hash job id: %w", err)
	}
	return id, nil
}

// StatusURL renders the polling URL for id.
func (a *Admitter) StatusURL(id string) string {
	return a.cfg.StatusURLBase + id
}

// Submit admits a top-level request. A pending or active job with the same id
// is returned with Existing set instead of being admitted twice.
func (a *Admitter) Submit(ctx context.Context, req Request) (Handle, error) {
	u, err := scrape.NormalizeURL(req.URL)
	if err != nil {
		metrics.ObserveAdmissionRejection("invalid_request")
		return Handle{}, err
	}
	opts := req.Options.WithDefaults()
	id, err := a.JobID(u.String(), opts)
	if err != nil {
		return Handle{}, err
	}
	handle := Handle{JobID: id, StatusURL: a.StatusURL(id)}

	unlock := a.locks.Lock(id)
	defer unlock()

	existing, err := a.deps.Store.Get(ctx, id)
	switch {
	case err == nil && !existing.State.Terminal():
		handle.Existing = true
		return handle, nil
	case err != nil && !errors.Is(err, scrape.ErrJobNotFound):
		return Handle{}, fmt.Errorf("lookup job %s: %w", id, err)
	}

	job := scrape.Job{
		ID:        id,
		URL:       u.String(),
		Options:   opts,
		Identity:  req.Identity.Key(),
		Plan:      req.Identity.Plan,
		State:     scrape.JobStatePending,
		CreatedAt: a.deps.Clock.Now(),
	}
	if err := a.admit(ctx, job, req.Identity); err != nil {
		if errors.Is(err, scrape.ErrJobExists) {
			handle.Existing = true
			return handle, nil
		}
		return Handle{}, err
	}
	a.logger.Info("job admitted", zap.String("job_id", id), zap.String("url", job.URL))
	return handle, nil
}

// SubmitChild admits a crawl-derived job under a random id through the same
// rate limit and quota checks as a top-level request.
func (a *Admitter) SubmitChild(ctx context.Context, req crawl.ChildRequest) (string, error) {
	u, err := scrape.NormalizeURL(req.URL)
	if err != nil {
		return "", err
	}
	id, err := a.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("child id: %w", err)
	}
	job := scrape.Job{
		ID:        id,
		URL:       u.String(),
		Options:   req.Options.WithDefaults(),
		Identity:  req.Identity,
		Plan:      req.Plan,
		State:     scrape.JobStatePending,
		ParentID:  req.ParentID,
		RootID:    req.RootID,
		CreatedAt: a.deps.Clock.Now(),
	}
	if err := a.admit(ctx, job, identityFromKey(req.Identity, req.Plan)); err != nil {
		return "", err
	}
	a.logger.Debug("child job admitted",
		zap.String("job_id", id),
		zap.String("parent_id", req.ParentID),
		zap.String("url", job.URL),
	)
	return id, nil
}

// Status reads a job's polling view.
func (a *Admitter) Status(ctx context.Context, id string) (scrape.Status, error) {
	job, err := a.deps.Store.Get(ctx, id)
	if err != nil {
		return scrape.Status{}, err
	}
	return scrape.StatusOf(job), nil
}

func (a *Admitter) admit(ctx context.Context, job scrape.Job, ident Identity) error {
	key := ident.Key()
	plan := a.deps.Plans.Lookup(ident.Plan)
	if !a.allow(ident, plan) {
		metrics.ObserveAdmissionRejection("rate_limited")
		return fmt.Errorf("%w: %s", scrape.ErrRateLimited, key)
	}

	now := a.deps.Clock.Now()
	var reserved []quota.Kind
	release := func() {
		for _, kind := range reserved {
			if err := a.deps.Counter.Release(context.WithoutCancel(ctx), key, kind, now); err != nil {
				a.logger.Warn("release quota", zap.String("identity", key), zap.String("kind", string(kind)), zap.Error(err))
			}
		}
	}

	kinds := []quota.Kind{quota.KindPages}
	if job.Options.UseAI {
		kinds = append(kinds, quota.KindAI)
	}
	for _, kind := range kinds {
		ok, err := a.deps.Counter.Reserve(ctx, key, kind, plan.Limit(kind), now)
		if err != nil {
			release()
			return fmt.Errorf("reserve %s quota: %w", kind, err)
		}
		if !ok {
			release()
			metrics.ObserveAdmissionRejection(string(kind) + "_quota")
			return fmt.Errorf("%w: monthly %s limit %d reached for plan %s",
				scrape.ErrQuotaExceeded, kind, plan.Limit(kind), plan.Name)
		}
		reserved = append(reserved, kind)
	}

	if err := a.deps.Store.Create(ctx, job); err != nil {
		release()
		return fmt.Errorf("persist job: %w", err)
	}
	if err := a.deps.Queue.Enqueue(ctx, scrape.QueueItem{JobID: job.ID, EnqueuedAt: now}); err != nil {
		release()
		failErr := a.deps.Store.Update(context.WithoutCancel(ctx), job.ID, scrape.JobUpdate{
			State:     scrape.JobStateFailed,
			Error:     "enqueue failed: " + err.Error(),
			ErrorCode: scrape.CodeUnknown,
		})
		if failErr != nil {
			a.logger.Error("mark unqueued job failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (a *Admitter) allow(ident Identity, plan quota.Plan) bool {
	if ident.Anonymous() {
		return a.deps.Limiter.Allow(ident.Key(), a.cfg.AnonymousPerMinute)
	}
	return a.deps.Limiter.Allow(ident.Key(), plan.RateLimitPerMinute)
}
