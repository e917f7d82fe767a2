package strategy

import (
	"context"

	"github.com/JakeFAU/webscrape-engine/internal/extract"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Stealth renders through a fingerprint-masked session. It handles everything
// and is the general-web strategy's single escalation target.
type Stealth struct {
	renderer Renderer
	limits   extract.Limits
}

// NewStealth builds the stealth strategy.
func NewStealth(renderer Renderer, limits extract.Limits) *Stealth {
	return &Stealth{renderer: renderer, limits: limits}
}

// Name implements Strategy.
func (s *Stealth) Name() string { return NameStealth }

// Priority implements Strategy.
func (s *Stealth) Priority() int { return PriorityStealth }

// CanHandle always reports true.
func (s *Stealth) CanHandle(string, scrape.Options) bool { return true }

// Execute implements Strategy.
func (s *Stealth) Execute(ctx context.Context, target Target) scrape.Result {
	limits := extract.LimitsFor(s.limits, target.Options)
	data, err := s.renderer.Run(ctx, browserTarget(target, true), pageExtractor(limits, scrape.TierStealth))
	return finish(NameStealth, scrape.TierStealth, data, err)
}
