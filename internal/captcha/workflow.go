package captcha

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/clock/system"
	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Outcome reports what the workflow did with a page.
type Outcome struct {
	Detection Detection
	Solved    bool
}

// Workflow runs detect, solve, inject and settle.
type Workflow struct {
	solver      Solver
	timeout     time.Duration
	settleDelay time.Duration
	sleep       func(context.Context, time.Duration) error
	logger      *zap.Logger
}

// Config tunes the workflow.
type Config struct {
	Timeout     time.Duration
	SettleDelay time.Duration
}

// NewWorkflow builds a workflow. A nil solver means challenges are detected and
// reported but never passed.
func NewWorkflow(solver Solver, cfg Config, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Workflow{
		solver:      solver,
		timeout:     cfg.Timeout,
		settleDelay: cfg.SettleDelay,
		sleep:       system.Sleep,
		logger:      logger,
	}
}

// Resolve returns a zero Outcome when the page has no challenge. When one is
// present it must be solved and injected, otherwise scrape.ErrCaptchaUnsolvable.
func (w *Workflow) Resolve(ctx context.Context, page Page, pageURL string) (Outcome, error) {
	d, err := Detect(ctx, page)
	if err != nil {
		return Outcome{}, err
	}
	if !d.Present {
		return Outcome{}, nil
	}
	out := Outcome{Detection: d}
	logger := w.logger.With(zap.String("url", pageURL), zap.String("captcha", string(d.Kind)))

	if w.solver == nil {
		logger.Warn("captcha detected with no solver configured")
		metrics.ObserveCaptcha(string(d.Kind), false)
		return out, fmt.Errorf("%w: %s present, no solver configured", scrape.ErrCaptchaUnsolvable, d.Kind)
	}

	solveCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	token, err := w.solver.Solve(solveCtx, pageURL, d)
	if err != nil {
		logger.Warn("captcha solve failed", zap.Error(err))
		metrics.ObserveCaptcha(string(d.Kind), false)
		return out, fmt.Errorf("%w: %v", scrape.ErrCaptchaUnsolvable, err)
	}
	if err := Inject(ctx, page, d, token); err != nil {
		metrics.ObserveCaptcha(string(d.Kind), false)
		return out, fmt.Errorf("%w: %v", scrape.ErrCaptchaUnsolvable, err)
	}
	if err := w.sleep(ctx, w.settleDelay); err != nil {
		return out, err
	}
	metrics.ObserveCaptcha(string(d.Kind), true)
	logger.Info("captcha solved")
	out.Solved = true
	return out, nil
}
