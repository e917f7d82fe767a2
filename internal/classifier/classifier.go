// Package classifier maps a URL to the cheapest execution tier likely to work.
package classifier

import (
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Confidence levels attached to each rule.
const (
	ConfidenceJSHeavy   = 0.9
	ConfidenceAntiBot   = 0.85
	ConfidenceSPA       = 0.75
	ConfidenceSpecial   = 1.0
	ConfidenceStatic    = 0.9
	ConfidenceNoSignal  = 0.7
	ConfidenceMalformed = 0.5
)

// Lists holds the domain tables consulted by Classify.
type Lists struct {
	JSHeavy []string
	AntiBot []string
	// Special maps a domain to an optional path prefix; "" matches any path.
	Special map[string]string
}

// DefaultLists returns the built-in domain tables.
func DefaultLists() Lists {
	return Lists{
		JSHeavy: []string{
			"twitter.com", "x.com", "instagram.com", "facebook.com", "tiktok.com",
			"youtube.com", "reddit.com", "pinterest.com", "threads.net", "airbnb.com",
			"notion.so", "figma.com", "medium.com",
		},
		AntiBot: []string{
			"linkedin.com", "amazon.com", "walmart.com", "ticketmaster.com", "nike.com",
			"zillow.com", "indeed.com", "glassdoor.com", "bestbuy.com", "target.com",
			"booking.com", "craigslist.org",
		},
		Special: map[string]string{
			"discord.com":      "",
			"web.whatsapp.com": "",
			"t.me":             "",
			"google.com":       "/search",
			"bing.com":         "/search",
			"duckduckgo.com":   "",
			"search.yahoo.com": "/search",
		},
	}
}

var (
	spaMarkers       = []string{"#!", "/app/", "/dashboard/"}
	staticExtensions = map[string]bool{
		".html": true, ".htm": true, ".txt": true, ".xml": true, ".json": true,
		".pdf": true, ".csv": true, ".md": true, ".rss": true, ".atom": true,
	}
	contentSegments = map[string]bool{
		"blog": true, "article": true, "articles": true, "news": true, "post": true,
		"posts": true, "docs": true, "wiki": true, "story": true, "stories": true,
	}
)

// Classifier is a pure function over its domain tables.
type Classifier struct {
	lists Lists
}

// New builds a classifier; zero-valued lists fall back to DefaultLists.
func New(lists Lists) *Classifier {
	def := DefaultLists()
	if lists.JSHeavy == nil {
		lists.JSHeavy = def.JSHeavy
	}
	if lists.AntiBot == nil {
		lists.AntiBot = def.AntiBot
	}
	if lists.Special == nil {
		lists.Special = def.Special
	}
	return &Classifier{lists: lists}
}

var defaultClassifier = New(Lists{})

// Classify runs the default classifier.
func Classify(raw string) scrape.Classification {
	return defaultClassifier.Classify(raw)
}

// Classify checks, in priority order: JS-heavy and anti-bot domain lists (anti-bot
// wins), SPA routing markers, special-cased domains, then static-content shape.
func (c *Classifier) Classify(raw string) scrape.Classification {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return scrape.Classification{
			RequiresJS: true,
			Tier:       scrape.TierRendered,
			Confidence: ConfidenceMalformed,
			Reasons:    []string{"malformed url, failing safe to rendered"},
		}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	full := strings.TrimSpace(raw)

	jsHeavy := matchDomain(host, c.lists.JSHeavy)
	antiBot := matchDomain(host, c.lists.AntiBot)
	switch {
	case antiBot != "":
		reasons := []string{"anti-bot protected domain: " + antiBot}
		if jsHeavy != "" {
			reasons = append(reasons, "javascript-heavy domain: "+jsHeavy)
		}
		return scrape.Classification{
			RequiresJS: jsHeavy != "",
			HasAntiBot: true,
			Tier:       scrape.TierStealth,
			Confidence: ConfidenceAntiBot,
			Reasons:    reasons,
		}
	case jsHeavy != "":
		return scrape.Classification{
			RequiresJS: true,
			Tier:       scrape.TierRendered,
			Confidence: ConfidenceJSHeavy,
			Reasons:    []string{"javascript-heavy domain: " + jsHeavy},
		}
	}

	for _, marker := range spaMarkers {
		if strings.Contains(full, marker) {
			return scrape.Classification{
				RequiresJS: true,
				Tier:       scrape.TierRendered,
				Confidence: ConfidenceSPA,
				Reasons:    []string{"spa routing marker " + marker},
			}
		}
	}

	if domain, ok := c.matchSpecial(host, u.Path); ok {
		return scrape.Classification{
			RequiresJS: true,
			Tier:       scrape.TierRendered,
			Confidence: ConfidenceSpecial,
			Reasons:    []string{"special-cased domain: " + domain},
		}
	}

	if reason, ok := staticShape(u.Path); ok {
		return scrape.Classification{
			Tier:       scrape.TierFast,
			Confidence: ConfidenceStatic,
			Reasons:    []string{reason},
		}
	}

	return scrape.Classification{
		Tier:       scrape.TierFast,
		Confidence: ConfidenceNoSignal,
		Reasons:    []string{"no signal"},
	}
}

func (c *Classifier) matchSpecial(host, p string) (string, bool) {
	for domain, prefix := range c.lists.Special {
		if !hostMatches(host, domain) {
			continue
		}
		if prefix == "" || strings.HasPrefix(p, prefix) {
			return domain, true
		}
	}
	return "", false
}

func staticShape(p string) (string, bool) {
	if p == "" || p == "/" {
		return "bare root path", true
	}
	if ext := strings.ToLower(path.Ext(p)); staticExtensions[ext] {
		return "static file extension " + ext, true
	}
	for _, seg := range strings.Split(strings.ToLower(p), "/") {
		if contentSegments[seg] {
			return "content path segment /" + seg + "/", true
		}
	}
	return "", false
}

func matchDomain(host string, domains []string) string {
	for _, d := range domains {
		if hostMatches(host, d) {
			return d
		}
	}
	return ""
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
