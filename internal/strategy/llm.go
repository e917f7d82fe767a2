package strategy

import (
	"context"

	"github.com/JakeFAU/webscrape-engine/internal/extract"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Completer answers a prompt over page text; *LLMClient satisfies it.
type Completer interface {
	Complete(ctx context.Context, page string, opts scrape.Options) (string, error)
}

// LLM renders the page and hands its markdown to a language model. It only
// runs when the job asked for llmOnly.
type LLM struct {
	renderer  Renderer
	completer Completer
	limits    extract.Limits
}

// NewLLM builds the LLM strategy.
func NewLLM(renderer Renderer, completer Completer, limits extract.Limits) *LLM {
	return &LLM{renderer: renderer, completer: completer, limits: limits}
}

// Name implements Strategy.
func (l *LLM) Name() string { return NameLLM }

// Priority implements Strategy.
func (l *LLM) Priority() int { return PriorityLLM }

// CanHandle reports whether the job requested llmOnly.
func (l *LLM) CanHandle(_ string, opts scrape.Options) bool { return opts.LLMOnly }

// Execute implements Strategy.
func (l *LLM) Execute(ctx context.Context, target Target) scrape.Result {
	limits := extract.LimitsFor(l.limits, target.Options)
	data, err := l.renderer.Run(ctx, browserTarget(target, false), pageExtractor(limits, scrape.TierRendered))
	if err != nil {
		return finish(NameLLM, scrape.TierRendered, data, err)
	}
	answer, err := l.completer.Complete(ctx, pageText(data), target.Options)
	if err != nil {
		return finish(NameLLM, scrape.TierRendered, data, err)
	}
	data.AIResult = answer
	return finish(NameLLM, scrape.TierRendered, data, nil)
}
