// Package strategy ranks execution paths for a URL and runs them with a single
// stealth escalation for the general-web path.
package strategy

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/webscrape-engine/internal/browser"
	collyfetcher "github.com/JakeFAU/webscrape-engine/internal/fetcher/colly"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Strategy names.
const (
	NameLLM        = "llm"
	NameSocial     = "social"
	NameSearch     = "search"
	NameGeneralWeb = "general_web"
	NameStealth    = "stealth"
)

// Priorities; higher wins.
const (
	PriorityLLM        = 100
	PrioritySocial     = 80
	PrioritySearch     = 70
	PriorityGeneralWeb = 50
	PriorityStealth    = 0
)

// Target is one job's fetch request.
type Target struct {
	JobID   string
	URL     string
	Options scrape.Options
}

// Strategy is a self-contained execution path.
type Strategy interface {
	Name() string
	Priority() int
	CanHandle(rawURL string, opts scrape.Options) bool
	Execute(ctx context.Context, target Target) scrape.Result
}

// Renderer runs a browser session; *browser.Manager satisfies it.
type Renderer interface {
	Run(ctx context.Context, target browser.Target, extract browser.ExtractFunc) (scrape.PageData, error)
}

// Fetcher performs a plain HTTP GET; *collyfetcher.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
}

// Classifier recommends a tier; *classifier.Classifier satisfies it.
type Classifier interface {
	Classify(rawURL string) scrape.Classification
}

// SoftFailure flags results whose title and content are both suspiciously short.
type SoftFailure struct {
	MinTitleLen   int
	MinContentLen int
}

// DefaultSoftFailure requires a non-empty title or 100 characters of content.
func DefaultSoftFailure() SoftFailure {
	return SoftFailure{MinTitleLen: 1, MinContentLen: 100}
}

// Failed reports whether data looks like an empty or placeholder page.
func (s SoftFailure) Failed(data *scrape.PageData) bool {
	if data == nil {
		return true
	}
	if data.AIResult != "" {
		return false
	}
	title := utf8.RuneCountInString(strings.TrimSpace(data.Title))
	content := utf8.RuneCountInString(strings.TrimSpace(data.Content))
	return title < s.MinTitleLen && content < s.MinContentLen
}

func browserTarget(t Target, stealth bool) browser.Target {
	return browser.Target{
		JobID:           t.JobID,
		URL:             t.URL,
		Proxy:           t.Options.Proxy,
		UserAgent:       t.Options.UserAgent,
		Mobile:          t.Options.Mobile,
		Stealth:         stealth,
		WaitForSelector: t.Options.WaitForSelector,
		HydrationDelay:  t.Options.HydrationDelay,
	}
}

// finish stamps strategy metadata onto a result.
func finish(name string, tier scrape.Tier, data scrape.PageData, err error) scrape.Result {
	if err != nil {
		res := scrape.Failed(err)
		res.Strategy = name
		return res
	}
	data.Strategy = name
	if data.Tier == "" {
		data.Tier = tier
	}
	res := scrape.Succeeded(data)
	res.Strategy = name
	return res
}
