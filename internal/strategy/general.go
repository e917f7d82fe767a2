package strategy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/classifier"
	"github.com/JakeFAU/webscrape-engine/internal/extract"
	collyfetcher "github.com/JakeFAU/webscrape-engine/internal/fetcher/colly"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// GeneralWeb picks a tier from the classifier: plain HTTP for Fast, a browser
// session for Rendered, and an immediate anti-bot failure for Stealth so the
// chain escalates without spending a session.
type GeneralWeb struct {
	classifier Classifier
	fetcher    Fetcher
	renderer   Renderer
	limits     extract.Limits
	logger     *zap.Logger
	now        func() time.Time
}

// NewGeneralWeb builds the general-web strategy. fetcher may be nil, in which
// case Fast URLs are rendered.
func NewGeneralWeb(cls Classifier, fetcher Fetcher, renderer Renderer, limits extract.Limits, logger *zap.Logger) *GeneralWeb {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneralWeb{
		classifier: cls,
		fetcher:    fetcher,
		renderer:   renderer,
		limits:     limits,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Strategy.
func (g *GeneralWeb) Name() string { return NameGeneralWeb }

// Priority implements Strategy.
func (g *GeneralWeb) Priority() int { return PriorityGeneralWeb }

// CanHandle accepts any http(s) URL.
func (g *GeneralWeb) CanHandle(rawURL string, _ scrape.Options) bool {
	_, err := scrape.NormalizeURL(rawURL)
	return err == nil
}

// Execute implements Strategy.
func (g *GeneralWeb) Execute(ctx context.Context, target Target) scrape.Result {
	limits := extract.LimitsFor(g.limits, target.Options)
	verdict := g.classifier.Classify(target.URL)
	logger := g.logger.With(zap.String("job_id", target.JobID), zap.String("tier", string(verdict.Tier)))

	switch verdict.Tier {
	case scrape.TierStealth:
		err := fmt.Errorf("%w: classifier recommends stealth tier (%s)",
			scrape.ErrAntiBotDetected, strings.Join(verdict.Reasons, "; "))
		return finish(NameGeneralWeb, scrape.TierStealth, scrape.PageData{}, err)
	case scrape.TierFast:
		if data, ok := g.fast(ctx, target, limits, logger); ok {
			return finish(NameGeneralWeb, scrape.TierFast, data, nil)
		}
	}

	data, err := g.renderer.Run(ctx, browserTarget(target, false), pageExtractor(limits, scrape.TierRendered))
	return finish(NameGeneralWeb, scrape.TierRendered, data, err)
}

// fast fetches without a browser. ok=false means the page should be rendered instead.
func (g *GeneralWeb) fast(ctx context.Context, target Target, limits extract.Limits, logger *zap.Logger) (scrape.PageData, bool) {
	opts := target.Options
	if g.fetcher == nil || opts.WaitForSelector != "" {
		return scrape.PageData{}, false
	}
	resp, err := g.fetcher.Fetch(ctx, collyfetcher.Request{URL: target.URL, UserAgent: opts.UserAgent, Proxy: opts.Proxy})
	if err != nil {
		logger.Debug("fast fetch failed; rendering", zap.Error(err))
		return scrape.PageData{}, false
	}
	if resp.StatusCode >= http.StatusBadRequest {
		logger.Debug("fast fetch returned error status; rendering", zap.Int("status", resp.StatusCode))
		return scrape.PageData{}, false
	}
	if classifier.NeedsRendering(resp.Body) {
		logger.Debug("fast fetch looks client-rendered; rendering")
		return scrape.PageData{}, false
	}
	final := resp.FinalURL
	if final == "" {
		final = target.URL
	}
	data, err := extract.Extract(string(resp.Body), final, limits)
	if err != nil {
		return scrape.PageData{}, false
	}
	if sig, blocked := classifier.BlockSignature(data.Title, string(resp.Body)); blocked {
		logger.Info("fast fetch hit block page; rendering", zap.String("signature", sig))
		return scrape.PageData{}, false
	}
	data.URL = target.URL
	data.FinalURL = final
	data.StatusCode = resp.StatusCode
	data.FetchedAt = g.now()
	data.Tier = scrape.TierFast
	return data, true
}
