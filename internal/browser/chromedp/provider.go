// Package chromedp implements browser.Provider on top of chromedp.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/browser"
)

// Config controls how Chrome is launched or attached.
type Config struct {
	Headless bool
	ExecPath string
	// RemoteURL attaches to an existing DevTools endpoint instead of launching.
	RemoteURL   string
	MaxParallel int
}

// Provider launches Chrome on first use and hands out one tab per session.
type Provider struct {
	cfg     Config
	logger  *zap.Logger
	limiter chan struct{}

	once        sync.Once
	initErr     error
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ browser.Provider = (*Provider)(nil)

// New creates a provider. Nothing is launched until the first NewSession.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Provider{cfg: cfg, logger: logger, limiter: limiter}
}

func (p *Provider) allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if p.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if p.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.cfg.ExecPath))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

// shared returns the lazily created allocator shared by proxy-less sessions.
func (p *Provider) shared() (context.Context, error) {
	p.once.Do(func() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			p.initErr = errors.New("browser provider closed")
			return
		}
		if p.cfg.RemoteURL != "" {
			p.allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(), p.cfg.RemoteURL)
			p.logger.Info("attached to remote browser", zap.String("remote_url", p.cfg.RemoteURL))
			return
		}
		p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), p.allocatorOptions("")...)
		p.logger.Info("browser allocator ready", zap.Bool("headless", p.cfg.Headless))
	})
	return p.allocCtx, p.initErr
}

// NewSession opens a tab configured with cfg. Chrome applies proxies per
// process, so a proxied session gets its own allocator.
func (p *Provider) NewSession(ctx context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	var (
		parent      context.Context
		ownedCancel context.CancelFunc
	)
	if cfg.Proxy != "" && p.cfg.RemoteURL == "" {
		parent, ownedCancel = chromedp.NewExecAllocator(context.Background(), p.allocatorOptions(cfg.Proxy)...)
	} else {
		if cfg.Proxy != "" {
			p.logger.Warn("proxy ignored for remote browser", zap.String("proxy", cfg.Proxy))
		}
		alloc, err := p.shared()
		if err != nil {
			p.release()
			return nil, fmt.Errorf("init browser: %w", err)
		}
		parent = alloc
	}

	tabCtx, tabCancel := chromedp.NewContext(parent)
	s := &Session{
		ctx:    tabCtx,
		meta:   newResponseMeta(),
		logger: p.logger,
	}
	s.cancel = func() {
		tabCancel()
		if ownedCancel != nil {
			ownedCancel()
		}
		p.release()
	}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)

	if err := chromedp.Run(tabCtx, setupAction(cfg)); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("configure browser tab: %w", err)
	}
	return s, nil
}

// Close tears down the shared browser.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.allocCancel != nil {
		p.allocCancel()
	}
	return nil
}

func setupAction(cfg browser.SessionConfig) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if cfg.UserAgent != "" {
			ua := emulation.SetUserAgentOverride(cfg.UserAgent)
			if cfg.Locale != "" {
				ua = ua.WithAcceptLanguage(cfg.Locale)
			}
			if err := ua.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
			err := emulation.SetDeviceMetricsOverride(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight), 1, cfg.Mobile).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if cfg.Stealth {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
		}
		return nil
	})
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (p *Provider) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

// Session is one chromedp tab.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	meta   *responseMeta
	logger *zap.Logger
	once   sync.Once
}

var _ browser.Session = (*Session)(nil)

// run executes actions on the tab, bounded by the caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Navigate loads url and waits for the body.
func (s *Session) Navigate(ctx context.Context, url string) (browser.Navigation, error) {
	var finalURL string
	err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return browser.Navigation{}, err
	}
	status, responseURL := s.meta.snapshot()
	if responseURL != "" {
		finalURL = responseURL
	}
	return browser.Navigation{StatusCode: status, FinalURL: finalURL}, nil
}

// Title returns document.title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// HTML returns the rendered DOM.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Evaluate runs a JS expression and decodes its result into out.
func (s *Session) Evaluate(ctx context.Context, js string, out any) error {
	if out == nil {
		var ignored any
		out = &ignored
	}
	return s.run(ctx, chromedp.Evaluate(js, out))
}

// WaitVisible blocks until selector is visible.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close releases the tab and any per-session browser.
func (s *Session) Close() error {
	s.once.Do(s.cancel)
	return nil
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}
