// Package robots enforces robots.txt directives with a per-origin cache.
// Fetch or parse failures allow access.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Config controls the policy.
type Config struct {
	UserAgent string
	CacheTTL  time.Duration
	Timeout   time.Duration
}

// Policy answers whether a URL may be fetched.
type Policy struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Option customizes a Policy.
type Option func(*Policy)

// WithHTTPClient overrides the client used to fetch robots.txt.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Policy) {
		if c != nil {
			p.client = c
		}
	}
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a Policy.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	p := &Policy{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: newRetryTransport(http.DefaultTransport)},
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cached),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allowed reports whether rawURL may be fetched. ignore short-circuits to true.
func (p *Policy) Allowed(ctx context.Context, rawURL string, ignore bool) bool {
	if p == nil || ignore {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	data, err := p.load(ctx, parsed)
	if err != nil {
		p.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host),
			zap.Error(err),
		)
		return true
	}
	group := data.FindGroup(p.cfg.UserAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return group.Test(target)
}

func (p *Policy) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	origin := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	now := p.now()

	p.mu.Lock()
	entry, ok := p.cache[origin]
	p.mu.Unlock()
	if ok && (p.cfg.CacheTTL <= 0 || now.Sub(entry.fetchedAt) < p.cfg.CacheTTL) {
		return entry.data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	status := resp.StatusCode
	if status >= http.StatusInternalServerError {
		// Block-page fronts answer 5xx; read as "no robots.txt" rather than disallow-all.
		p.logger.Warn("robots server error; allowing access",
			zap.String("host", parsed.Host),
			zap.Int("status", status),
		)
		status, body = http.StatusNotFound, nil
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	p.mu.Lock()
	p.cache[origin] = cached{data: data, fetchedAt: now}
	p.mu.Unlock()
	return data, nil
}
