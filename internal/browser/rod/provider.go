// Package rod implements browser.Provider with go-rod and its stealth patches.
// It backs the stealth strategy.
package rod

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/browser"
)

// Config controls how the browser is launched or attached.
type Config struct {
	Headless  bool
	ExecPath  string
	RemoteURL string
}

type instance struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (i *instance) close() error {
	var err error
	if i.browser != nil {
		err = i.browser.Close()
	}
	if i.launcher != nil {
		i.launcher.Kill()
	}
	return err
}

// Provider launches one shared browser lazily; proxied sessions get their own.
type Provider struct {
	cfg    Config
	logger *zap.Logger

	once    sync.Once
	shared  *instance
	initErr error

	mu     sync.Mutex
	closed bool
}

var _ browser.Provider = (*Provider)(nil)

// New creates a provider. Nothing is launched until the first NewSession.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}
}

func (p *Provider) launch(proxy string) (*instance, error) {
	if p.cfg.RemoteURL != "" && proxy == "" {
		b := rod.New().ControlURL(p.cfg.RemoteURL)
		if err := b.Connect(); err != nil {
			return nil, fmt.Errorf("connect remote browser: %w", err)
		}
		return &instance{browser: b}, nil
	}
	l := launcher.New().Headless(p.cfg.Headless)
	if p.cfg.ExecPath != "" {
		l = l.Bin(p.cfg.ExecPath)
	}
	if proxy != "" {
		l = l.Proxy(proxy)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &instance{browser: b, launcher: l}, nil
}

func (p *Provider) sharedInstance() (*instance, error) {
	p.once.Do(func() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			p.initErr = errors.New("browser provider closed")
			return
		}
		p.shared, p.initErr = p.launch("")
		if p.initErr == nil {
			p.logger.Info("stealth browser ready", zap.Bool("headless", p.cfg.Headless))
		}
	})
	return p.shared, p.initErr
}

// NewSession opens a stealth-patched page configured with cfg.
func (p *Provider) NewSession(ctx context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	var (
		inst  *instance
		owned bool
		err   error
	)
	if cfg.Proxy != "" {
		inst, err = p.launch(cfg.Proxy)
		owned = true
	} else {
		inst, err = p.sharedInstance()
	}
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(inst.browser)
	if err != nil {
		if owned {
			_ = inst.close()
		}
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	s := &Session{page: page}
	if owned {
		s.owned = inst
	}
	if err := s.configure(ctx, cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close shuts the shared browser down.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.shared != nil {
		return p.shared.close()
	}
	return nil
}

// Session wraps a rod page.
type Session struct {
	page  *rod.Page
	owned *instance
	once  sync.Once
	err   error
}

var _ browser.Session = (*Session)(nil)

func (s *Session) configure(ctx context.Context, cfg browser.SessionConfig) error {
	page := s.page.Context(ctx)
	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.Locale,
		}); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
			Mobile:            cfg.Mobile,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	return nil
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) (browser.Navigation, error) {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return browser.Navigation{}, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return browser.Navigation{}, fmt.Errorf("wait load: %w", err)
	}
	info, err := page.Info()
	if err != nil {
		return browser.Navigation{}, fmt.Errorf("page info: %w", err)
	}
	return browser.Navigation{FinalURL: info.URL}, nil
}

// Title returns the page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.Title, nil
}

// HTML returns the rendered DOM.
func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Evaluate runs a JS expression and decodes its result into out.
func (s *Session) Evaluate(ctx context.Context, js string, out any) error {
	res, err := s.page.Context(ctx).Eval("() => (" + js + ")")
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// WaitVisible blocks until selector is visible.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the page and any per-session browser.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.err = s.page.Close()
		if s.owned != nil {
			if err := s.owned.close(); err != nil && s.err == nil {
				s.err = err
			}
		}
	})
	return s.err
}
