package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/captcha"
	"github.com/JakeFAU/webscrape-engine/internal/classifier"
	"github.com/JakeFAU/webscrape-engine/internal/clock/system"
	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// ExtractFunc turns a validated page into structured data.
type ExtractFunc func(ctx context.Context, s Session, page Page) (scrape.PageData, error)

// ProxyPool is the slice of the proxy rotator the manager uses.
type ProxyPool interface {
	Next() (string, bool)
	ReportSuccess(address string)
	ReportFailure(address string)
}

// UserAgentSource hands out rotated desktop user agents; "" means none configured.
type UserAgentSource interface {
	UserAgent() string
}

// ChallengeResolver passes captcha challenges.
type ChallengeResolver interface {
	Resolve(ctx context.Context, page captcha.Page, pageURL string) (captcha.Outcome, error)
}

// Config bounds the retry state machine.
type Config struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	NavTimeout     time.Duration
	Forensics      bool
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	UserAgent      string
	MobileAgent    string
}

// Target is one page load request.
type Target struct {
	JobID           string
	URL             string
	Proxy           string
	UserAgent       string
	Mobile          bool
	Stealth         bool
	WaitForSelector string
	HydrationDelay  time.Duration
}

// Manager drives a session through Init, Navigate, Validate, Extract and
// Success, falling back to Cleanup and Retry on failure.
type Manager struct {
	provider  Provider
	proxies   ProxyPool
	agents    UserAgentSource
	resolver  ChallengeResolver
	artifacts scrape.BlobStore
	cfg       Config
	sleep     func(context.Context, time.Duration) error
	clock     scrape.Clock
	logger    *zap.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithProxies attaches a proxy pool.
func WithProxies(p ProxyPool) Option { return func(m *Manager) { m.proxies = p } }

// WithUserAgents rotates desktop user agents from src.
func WithUserAgents(src UserAgentSource) Option { return func(m *Manager) { m.agents = src } }

// WithResolver attaches a captcha workflow.
func WithResolver(r ChallengeResolver) Option { return func(m *Manager) { m.resolver = r } }

// WithArtifacts attaches a blob store for forensic snapshots.
func WithArtifacts(b scrape.BlobStore) Option { return func(m *Manager) { m.artifacts = b } }

// WithSleeper replaces the backoff wait.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// WithClock injects the time source.
func WithClock(c scrape.Clock) Option { return func(m *Manager) { m.clock = c } }

// NewManager builds a Manager over provider.
func NewManager(provider Provider, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		provider: provider,
		cfg:      cfg,
		sleep:    system.Sleep,
		clock:    system.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backoff is the wait after a failed attempt: base × attempt.
func (m *Manager) Backoff(attempt int) time.Duration {
	return m.cfg.BackoffBase * time.Duration(attempt)
}

type state int

const (
	stateInit state = iota
	stateNavigate
	stateValidate
	stateExtract
	stateSuccess
	stateCleanup
	stateRetry
)

func (s state) String() string {
	return [...]string{"init", "navigate", "validate", "extract", "success", "cleanup", "retry"}[s]
}

// attemptRun is the mutable state of one attempt.
type attemptRun struct {
	attempt  int
	proxy    string
	session  Session
	page     Page
	data     scrape.PageData
	err      error
	terminal bool
	blamed   bool
}

// Run loads target and hands the validated page to extract. Block pages fail
// with scrape.ErrAntiBotDetected and unsolvable challenges with
// scrape.ErrCaptchaUnsolvable, neither retried. Other failures are retried up
// to MaxAttempts with linear backoff.
func (m *Manager) Run(ctx context.Context, target Target, extract ExtractFunc) (scrape.PageData, error) {
	logger := m.logger.With(zap.String("job_id", target.JobID), zap.String("url", target.URL))
	run := &attemptRun{attempt: 1}
	st := stateInit

	for {
		switch st {
		case stateInit:
			st = m.init(ctx, target, run)
		case stateNavigate:
			st = m.navigate(ctx, target, run)
		case stateValidate:
			st = m.validate(ctx, target, run, logger)
		case stateExtract:
			data, err := extract(ctx, run.session, run.page)
			if err != nil {
				run.err = fmt.Errorf("%w: %v", scrape.ErrExtraction, err)
				st = stateCleanup
				continue
			}
			run.data = data
			st = stateSuccess
		case stateSuccess:
			if run.proxy != "" && m.proxies != nil {
				m.proxies.ReportSuccess(run.proxy)
			}
			m.closeSession(run, logger)
			metrics.ObserveSessionAttempt("success")
			return run.data, nil
		case stateCleanup:
			metrics.ObserveSessionAttempt(outcomeFor(run.err))
			logger.Warn("browser attempt failed",
				zap.Int("attempt", run.attempt),
				zap.String("proxy", run.proxy),
				zap.Error(run.err))
			m.captureForensics(ctx, target, run, logger)
			m.closeSession(run, logger)
			if run.blamed && run.proxy != "" && m.proxies != nil {
				m.proxies.ReportFailure(run.proxy)
			}
			if ctx.Err() != nil {
				return scrape.PageData{}, fmt.Errorf("browser session aborted: %w", ctx.Err())
			}
			if run.terminal || run.attempt >= m.cfg.MaxAttempts {
				return scrape.PageData{}, run.err
			}
			st = stateRetry
		case stateRetry:
			if err := m.sleep(ctx, m.Backoff(run.attempt)); err != nil {
				return scrape.PageData{}, fmt.Errorf("browser retry aborted: %w", err)
			}
			run = &attemptRun{attempt: run.attempt + 1}
			st = stateInit
		}
	}
}

func (m *Manager) init(ctx context.Context, target Target, run *attemptRun) state {
	run.proxy = target.Proxy
	if run.proxy == "" && m.proxies != nil {
		if p, ok := m.proxies.Next(); ok {
			run.proxy = p
		}
	}
	cfg := SessionConfig{
		Proxy:          run.proxy,
		UserAgent:      m.userAgent(target),
		ViewportWidth:  m.cfg.ViewportWidth,
		ViewportHeight: m.cfg.ViewportHeight,
		Mobile:         target.Mobile,
		Locale:         m.cfg.Locale,
		Stealth:        target.Stealth,
	}
	session, err := m.provider.NewSession(ctx, cfg)
	if err != nil {
		run.err = fmt.Errorf("open browser session: %w", err)
		run.blamed = true
		return stateCleanup
	}
	run.session = session
	return stateNavigate
}

func (m *Manager) navigate(ctx context.Context, target Target, run *attemptRun) state {
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()

	nav, err := run.session.Navigate(navCtx, target.URL)
	if err != nil {
		run.err = fmt.Errorf("%w: %v", scrape.ErrNavigation, err)
		run.blamed = true
		return stateCleanup
	}
	if target.WaitForSelector != "" {
		if err := run.session.WaitVisible(navCtx, target.WaitForSelector); err != nil {
			run.err = fmt.Errorf("%w: wait for %q: %v", scrape.ErrNavigation, target.WaitForSelector, err)
			return stateCleanup
		}
	}
	if err := m.sleep(ctx, target.HydrationDelay); err != nil {
		run.err = err
		return stateCleanup
	}
	run.page = Page{
		URL:        target.URL,
		FinalURL:   nav.FinalURL,
		StatusCode: nav.StatusCode,
		FetchedAt:  m.clock.Now(),
	}
	if run.page.FinalURL == "" {
		run.page.FinalURL = target.URL
	}
	return stateValidate
}

func (m *Manager) validate(ctx context.Context, target Target, run *attemptRun, logger *zap.Logger) state {
	if m.resolver != nil {
		out, err := m.resolver.Resolve(ctx, run.session, target.URL)
		if err != nil {
			run.err = err
			run.terminal = errors.Is(err, scrape.ErrCaptchaUnsolvable)
			return stateCleanup
		}
		if out.Solved {
			logger.Info("captcha passed", zap.String("captcha", string(out.Detection.Kind)))
		}
	}

	title, err := run.session.Title(ctx)
	if err != nil {
		run.err = fmt.Errorf("%w: read title: %v", scrape.ErrNavigation, err)
		return stateCleanup
	}
	html, err := run.session.HTML(ctx)
	if err != nil {
		run.err = fmt.Errorf("%w: read html: %v", scrape.ErrNavigation, err)
		return stateCleanup
	}
	run.page.Title = title
	run.page.HTML = html

	if sig, blocked := classifier.BlockSignature(title, html); blocked {
		metrics.ObserveAntiBot(target.URL)
		run.err = fmt.Errorf("%w: %s", scrape.ErrAntiBotDetected, sig)
		run.terminal = true
		run.blamed = true
		return stateCleanup
	}
	return stateExtract
}

func (m *Manager) userAgent(target Target) string {
	switch {
	case target.UserAgent != "":
		return target.UserAgent
	case target.Mobile && m.cfg.MobileAgent != "":
		return m.cfg.MobileAgent
	}
	if m.agents != nil && !target.Mobile {
		if ua := m.agents.UserAgent(); ua != "" {
			return ua
		}
	}
	return m.cfg.UserAgent
}

// captureForensics stores a screenshot and HTML snapshot; failures are logged only.
func (m *Manager) captureForensics(ctx context.Context, target Target, run *attemptRun, logger *zap.Logger) {
	if !m.cfg.Forensics || m.artifacts == nil || run.session == nil {
		return
	}
	// The job context may already be spent; forensics get their own short budget.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	jobID := target.JobID
	if jobID == "" {
		jobID = "adhoc"
	}
	base := "forensics/" + jobID + "/" + strconv.Itoa(run.attempt)

	if shot, err := run.session.Screenshot(fctx); err != nil {
		logger.Debug("forensic screenshot failed", zap.Error(err))
	} else if _, err := m.artifacts.PutObject(fctx, base+".png", "image/png", bytes.NewReader(shot)); err != nil {
		logger.Debug("store forensic screenshot", zap.Error(err))
	}

	html := run.page.HTML
	if html == "" {
		if h, err := run.session.HTML(fctx); err == nil {
			html = h
		}
	}
	if html != "" {
		if _, err := m.artifacts.PutObject(fctx, base+".html", "text/html; charset=utf-8", strings.NewReader(html)); err != nil {
			logger.Debug("store forensic snapshot", zap.Error(err))
		}
	}
}

func (m *Manager) closeSession(run *attemptRun, logger *zap.Logger) {
	if run.session == nil {
		return
	}
	if err := run.session.Close(); err != nil {
		logger.Debug("close browser session", zap.Error(err))
	}
	run.session = nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, scrape.ErrAntiBotDetected):
		return "blocked"
	case errors.Is(err, scrape.ErrCaptchaUnsolvable):
		return "captcha"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
