package strategy

import (
	"context"
	"net/url"
	"strings"

	"github.com/JakeFAU/webscrape-engine/internal/extract"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

type engine struct {
	domain     string
	pathPrefix string
	queryParam string
	results    string
}

var engines = []engine{
	{domain: "google.com", pathPrefix: "/search", queryParam: "q", results: "#search"},
	{domain: "bing.com", pathPrefix: "/search", queryParam: "q", results: "#b_results"},
	{domain: "duckduckgo.com", queryParam: "q", results: "#links"},
	{domain: "search.yahoo.com", pathPrefix: "/search", queryParam: "p", results: "#web"},
	{domain: "search.brave.com", pathPrefix: "/search", queryParam: "q", results: "#results"},
}

// Search renders search-engine result pages and keeps only result links.
type Search struct {
	renderer Renderer
	limits   extract.Limits
}

// NewSearch builds the search strategy.
func NewSearch(renderer Renderer, limits extract.Limits) *Search {
	return &Search{renderer: renderer, limits: limits}
}

// Name implements Strategy.
func (s *Search) Name() string { return NameSearch }

// Priority implements Strategy.
func (s *Search) Priority() int { return PrioritySearch }

// CanHandle matches result URLs: a known engine with a query parameter.
func (s *Search) CanHandle(rawURL string, _ scrape.Options) bool {
	_, ok := searchEngine(rawURL)
	return ok
}

// Execute implements Strategy.
func (s *Search) Execute(ctx context.Context, target Target) scrape.Result {
	eng, _ := searchEngine(target.URL)
	if target.Options.WaitForSelector == "" {
		target.Options.WaitForSelector = eng.results
	}
	limits := extract.LimitsFor(s.limits, target.Options)
	limits.LinkScope = eng.results
	data, err := s.renderer.Run(ctx, browserTarget(target, true), pageExtractor(limits, scrape.TierRendered))
	return finish(NameSearch, scrape.TierRendered, data, err)
}

func searchEngine(rawURL string) (engine, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return engine{}, false
	}
	host := strings.ToLower(u.Hostname())
	for _, e := range engines {
		if !hostMatches(host, e.domain) {
			continue
		}
		if e.pathPrefix != "" && !strings.HasPrefix(u.Path, e.pathPrefix) {
			continue
		}
		if u.Query().Get(e.queryParam) == "" {
			continue
		}
		return e, true
	}
	return engine{}, false
}
