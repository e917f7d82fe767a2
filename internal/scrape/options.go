package scrape

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OptionsVersion is bumped whenever a field that changes job identity is added.
const OptionsVersion = 1

// Default option values applied by WithDefaults.
const (
	DefaultMaxContentLength = 50000
	DefaultMaxLinks         = 100
	DefaultMaxDepth         = 1
	DefaultMaxPages         = 10
)

// Options are the per-job knobs supplied at submission.
type Options struct {
	Version int `json:"version"`

	// WaitForSelector is a CSS selector the page must render before extraction.
	WaitForSelector string `json:"waitForSelector,omitempty"`
	// MaxContentLength caps the cleaned body text in characters.
	MaxContentLength int `json:"maxContentLength,omitempty"`
	// MaxLinks caps the extracted link list.
	MaxLinks int `json:"maxLinks,omitempty"`
	// HydrationDelay is extra settle time after navigation for client-side rendering.
	HydrationDelay time.Duration `json:"hydrationDelay,omitempty"`

	Proxy     string `json:"proxy,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Mobile    bool   `json:"mobile,omitempty"`

	Recursive bool `json:"recursive,omitempty"`
	MaxDepth  int  `json:"maxDepth,omitempty"`
	MaxPages  int  `json:"maxPages,omitempty"`

	IgnoreRobotsTxt bool `json:"ignoreRobotsTxt,omitempty"`

	Webhook       string `json:"webhook,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`

	UseAI       bool   `json:"useAI,omitempty"`
	LLMOnly     bool   `json:"llmOnly,omitempty"`
	AIPrompt    string `json:"aiPrompt,omitempty"`
	LLMProvider string `json:"llmProvider,omitempty"`
	LLMAPIKey   string `json:"llmApiKey,omitempty"`
	LLMModel    string `json:"llmModel,omitempty"`
	LLMEndpoint string `json:"llmEndpoint,omitempty"`
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.Version == 0 {
		o.Version = OptionsVersion
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = DefaultMaxContentLength
	}
	if o.MaxLinks <= 0 {
		o.MaxLinks = DefaultMaxLinks
	}
	if o.Recursive {
		if o.MaxDepth <= 0 {
			o.MaxDepth = DefaultMaxDepth
		}
		if o.MaxPages <= 0 {
			o.MaxPages = DefaultMaxPages
		}
	}
	if o.LLMOnly {
		o.UseAI = true
	}
	return o
}

// IdentityKey renders the fields that make two submissions the same logical job.
// Webhook targets, proxies and LLM credentials are deliberately excluded.
func (o Options) IdentityKey() string {
	parts := []string{
		"v=" + strconv.Itoa(o.Version),
		"recursive=" + strconv.FormatBool(o.Recursive),
		"depth=" + strconv.Itoa(o.MaxDepth),
		"pages=" + strconv.Itoa(o.MaxPages),
		"ai=" + strconv.FormatBool(o.UseAI),
		"llm_only=" + strconv.FormatBool(o.LLMOnly),
		"prompt=" + o.AIPrompt,
		"wait=" + o.WaitForSelector,
		"mobile=" + strconv.FormatBool(o.Mobile),
		"robots=" + strconv.FormatBool(o.IgnoreRobotsTxt),
	}
	return strings.Join(parts, "|")
}

// NormalizeURL validates a submitted URL and returns its canonical form.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrInvalidRequest, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: url host is required", ErrInvalidRequest)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u, nil
}

// CacheKey derives the result-cache key for a URL: host plus path, no scheme or trailing slash.
func CacheKey(raw string) string {
	u, err := NormalizeURL(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	key := u.Host + strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// Hostname returns the lowercase host of a URL without a leading "www.".
func Hostname(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
