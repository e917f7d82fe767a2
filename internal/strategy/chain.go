package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Enricher answers an AI prompt over extracted page data.
type Enricher interface {
	Enrich(ctx context.Context, data scrape.PageData, opts scrape.Options) (string, error)
}

// Chain holds strategies sorted by descending priority.
type Chain struct {
	strategies []Strategy
	stealth    Strategy
	soft       SoftFailure
	enricher   Enricher
	logger     *zap.Logger
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithSoftFailure overrides the soft-failure thresholds.
func WithSoftFailure(s SoftFailure) ChainOption { return func(c *Chain) { c.soft = s } }

// WithEnricher answers useAI prompts after a non-LLM strategy succeeds.
func WithEnricher(e Enricher) ChainOption { return func(c *Chain) { c.enricher = e } }

// NewChain sorts strategies by priority. Ties keep registration order.
func NewChain(logger *zap.Logger, strategies []Strategy, opts ...ChainOption) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := append([]Strategy(nil), strategies...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })
	c := &Chain{strategies: sorted, soft: DefaultSoftFailure(), logger: logger}
	for _, s := range sorted {
		if s.Name() == NameStealth {
			c.stealth = s
			break
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Strategies returns the sorted strategy list.
func (c *Chain) Strategies() []Strategy {
	return append([]Strategy(nil), c.strategies...)
}

// Select returns the highest-priority strategy that can handle the URL.
func (c *Chain) Select(rawURL string, opts scrape.Options) (Strategy, bool) {
	for _, s := range c.strategies {
		if s.CanHandle(rawURL, opts) {
			return s, true
		}
	}
	return nil, false
}

// Run executes the selected strategy. A general-web failure, anti-bot result or
// soft failure is retried once through the stealth strategy; every other
// strategy's outcome is returned as-is.
func (c *Chain) Run(ctx context.Context, target Target) scrape.Result {
	logger := c.logger.With(zap.String("job_id", target.JobID), zap.String("url", target.URL))
	selected, ok := c.Select(target.URL, target.Options)
	if !ok {
		return scrape.Failed(fmt.Errorf("%w: %s", scrape.ErrNoStrategy, target.URL))
	}

	res := c.execute(ctx, selected, target)
	if selected.Name() != NameGeneralWeb || c.stealth == nil {
		return c.enrich(ctx, res, target, logger)
	}

	reason, escalate := c.escalationReason(res)
	if !escalate {
		return c.enrich(ctx, res, target, logger)
	}
	if ctx.Err() != nil {
		return scrape.Failed(fmt.Errorf("escalation skipped: %w", ctx.Err()))
	}
	metrics.ObserveFallback(reason)
	logger.Info("escalating to stealth strategy",
		zap.String("strategy", selected.Name()),
		zap.String("reason", reason),
		zap.String("error", res.Error),
	)

	res = c.execute(ctx, c.stealth, target)
	if res.Success && c.soft.Failed(res.Data) {
		failed := scrape.Failed(fmt.Errorf("%w: %s", scrape.ErrSoftFailure, target.URL))
		failed.Strategy = res.Strategy
		return failed
	}
	return c.enrich(ctx, res, target, logger)
}

func (c *Chain) execute(ctx context.Context, s Strategy, target Target) scrape.Result {
	res := s.Execute(ctx, target)
	if res.Strategy == "" {
		res.Strategy = s.Name()
	}
	metrics.ObserveStrategy(s.Name(), res.Success)
	return res
}

func (c *Chain) escalationReason(res scrape.Result) (string, bool) {
	switch {
	case !res.Success && errors.Is(res.Err(), scrape.ErrAntiBotDetected):
		return "anti_bot", true
	case !res.Success:
		return "failure", true
	case c.soft.Failed(res.Data):
		return "soft_failure", true
	default:
		return "", false
	}
}

func (c *Chain) enrich(ctx context.Context, res scrape.Result, target Target, logger *zap.Logger) scrape.Result {
	opts := target.Options
	if !res.Success || c.enricher == nil || !opts.UseAI || opts.LLMOnly || res.Data == nil {
		return res
	}
	answer, err := c.enricher.Enrich(ctx, *res.Data, opts)
	if err != nil {
		logger.Warn("ai enrichment failed", zap.Error(err))
		return res
	}
	data := *res.Data
	data.AIResult = answer
	res.Data = &data
	return res
}
