package strategy

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/webscrape-engine/internal/extract"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// socialWaits maps social domains to the element that signals a rendered feed.
var socialWaits = map[string]string{
	"twitter.com":   "article",
	"x.com":         "article",
	"instagram.com": "main",
	"facebook.com":  `div[role="main"]`,
	"linkedin.com":  "main",
	"tiktok.com":    "main",
	"youtube.com":   "#content",
	"reddit.com":    "main",
	"threads.net":   "main",
	"pinterest.com": "main",
}

const socialHydration = 2 * time.Second

// Social renders known social-media pages, waiting for the feed and preferring
// Open Graph metadata.
type Social struct {
	renderer Renderer
	limits   extract.Limits
}

// NewSocial builds the social strategy.
func NewSocial(renderer Renderer, limits extract.Limits) *Social {
	return &Social{renderer: renderer, limits: limits}
}

// Name implements Strategy.
func (s *Social) Name() string { return NameSocial }

// Priority implements Strategy.
func (s *Social) Priority() int { return PrioritySocial }

// CanHandle matches known social domains and their subdomains.
func (s *Social) CanHandle(rawURL string, _ scrape.Options) bool {
	_, ok := socialDomain(rawURL)
	return ok
}

// Execute implements Strategy.
func (s *Social) Execute(ctx context.Context, target Target) scrape.Result {
	domain, _ := socialDomain(target.URL)
	if target.Options.WaitForSelector == "" {
		target.Options.WaitForSelector = socialWaits[domain]
	}
	if target.Options.HydrationDelay == 0 {
		target.Options.HydrationDelay = socialHydration
	}
	limits := extract.LimitsFor(s.limits, target.Options)
	limits.PreferOpenGraph = true
	data, err := s.renderer.Run(ctx, browserTarget(target, true), pageExtractor(limits, scrape.TierRendered))
	return finish(NameSocial, scrape.TierRendered, data, err)
}

func socialDomain(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for domain := range socialWaits {
		if hostMatches(host, domain) {
			return domain, true
		}
	}
	return "", false
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
