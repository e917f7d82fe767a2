package browser

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/captcha"
	"github.com/JakeFAU/webscrape-engine/internal/proxy"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

const articleHTML = `<html><head><title>Hello</title></head><body><p>content</p></body></html>`

func TestManagerRunSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: []fakePage{{title: "Hello", html: articleHTML, status: 200}}}
	proxies := &fakeProxies{next: "http://p:1"}
	m := NewManager(provider, Config{}, zap.NewNop(), WithProxies(proxies), WithSleeper(recordSleep(nil)))

	data, err := m.Run(context.Background(), Target{JobID: "j1", URL: "https://example.com"}, titleExtract)
	require.NoError(t, err)
	require.Equal(t, "Hello", data.Title)
	require.Equal(t, 1, provider.opened())
	require.Equal(t, []string{"http://p:1"}, proxies.successes)
	require.Empty(t, proxies.failures)
	require.True(t, provider.allClosed())
	require.Equal(t, "http://p:1", provider.configs[0].Proxy)
}

func TestManagerRetriesTransientFailuresWithLinearBackoff(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: []fakePage{
		{navErr: errors.New("net::ERR_CONNECTION_RESET")},
		{navErr: errors.New("net::ERR_TIMED_OUT")},
		{title: "Hello", html: articleHTML},
	}}
	proxies := &fakeProxies{next: "http://p:1"}
	var sleeps []time.Duration
	m := NewManager(provider, Config{MaxAttempts: 3, BackoffBase: 2 * time.Second}, zap.NewNop(),
		WithProxies(proxies), WithSleeper(recordSleep(&sleeps)))

	data, err := m.Run(context.Background(), Target{URL: "https://example.com"}, titleExtract)
	require.NoError(t, err)
	require.Equal(t, "Hello", data.Title)
	require.Equal(t, 3, provider.opened())
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
	require.Len(t, proxies.failures, 2)
	require.Len(t, proxies.successes, 1)
	require.True(t, provider.allClosed())
}

func TestManagerFailsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: []fakePage{
		{navErr: errors.New("dns")}, {navErr: errors.New("dns")}, {navErr: errors.New("dns")}, {title: "never"},
	}}
	var sleeps []time.Duration
	m := NewManager(provider, Config{MaxAttempts: 3, BackoffBase: time.Second}, zap.NewNop(), WithSleeper(recordSleep(&sleeps)))

	_, err := m.Run(context.Background(), Target{URL: "https://example.com"}, titleExtract)
	require.ErrorIs(t, err, scrape.ErrNavigation)
	require.Equal(t, 3, provider.opened())
	require.Len(t, sleeps, 2)
}

func TestManagerBlockSignatureShortCircuits(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: []fakePage{
		{title: "Just a moment...", html: "<html>checking your browser</html>", shot: []byte("png")},
		{title: "Hello", html: articleHTML},
	}}
	blobs := &fakeBlobs{}
	m := NewManager(provider, Config{Forensics: true}, zap.NewNop(), WithArtifacts(blobs), WithSleeper(recordSleep(nil)))

	_, err := m.Run(context.Background(), Target{JobID: "job-1", URL: "https://shop.test"}, titleExtract)
	require.ErrorIs(t, err, scrape.ErrAntiBotDetected)
	require.Equal(t, scrape.CodeAntiBotDetected, scrape.CodeFor(err))
	require.Equal(t, 1, provider.opened())
	require.ElementsMatch(t, []string{"forensics/job-1/1.png", "forensics/job-1/1.html"}, blobs.keys())
	require.True(t, provider.allClosed())
}

func TestManagerCaptchaUnsolvableIsNotRetried(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: []fakePage{{title: "Login", html: articleHTML}, {title: "Login", html: articleHTML}}}
	resolver := captcha.NewWorkflow(nil, captcha.Config{}, nil)
	provider.pages[0].html = `<div class="g-recaptcha" data-sitekey="k"></div>`
	m := NewManager(provider, Config{}, zap.NewNop(), WithResolver(resolver), WithSleeper(recordSleep(nil)))

	_, err := m.Run(context.Background(), Target{URL: "https://login.test"}, titleExtract)
	require.ErrorIs(t, err, scrape.ErrCaptchaUnsolvable)
	require.Equal(t, 1, provider.opened())
}

func TestManagerExtractionFailureRetries(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: []fakePage{{title: "A", html: articleHTML}, {title: "B", html: articleHTML}}}
	calls := 0
	extract := func(_ context.Context, _ Session, p Page) (scrape.PageData, error) {
		calls++
		if calls == 1 {
			return scrape.PageData{}, errors.New("selector missing")
		}
		return scrape.PageData{Title: p.Title}, nil
	}
	m := NewManager(provider, Config{MaxAttempts: 2}, zap.NewNop(), WithSleeper(recordSleep(nil)))

	data, err := m.Run(context.Background(), Target{URL: "https://x.test"}, extract)
	require.NoError(t, err)
	require.Equal(t, "B", data.Title)
}

func TestManagerStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{pages: []fakePage{{navErr: errors.New("boom")}, {title: "late"}}}
	m := NewManager(provider, Config{MaxAttempts: 3}, zap.NewNop(), WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := m.Run(ctx, Target{URL: "https://x.test"}, titleExtract)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, provider.opened())
}

func TestManagerUserAgentSelection(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeProvider{}, Config{UserAgent: "desk", MobileAgent: "phone"}, nil)
	require.Equal(t, "desk", m.userAgent(Target{}))
	require.Equal(t, "phone", m.userAgent(Target{Mobile: true}))
	require.Equal(t, "custom", m.userAgent(Target{Mobile: true, UserAgent: "custom"}))
	require.Equal(t, 6*time.Second, m.Backoff(3))

	rotated := NewManager(&fakeProvider{}, Config{UserAgent: "desk", MobileAgent: "phone"}, nil,
		WithUserAgents(proxy.New(nil, proxy.WithUserAgents([]string{"rotated"}))))
	require.Equal(t, "rotated", rotated.userAgent(Target{}))
	require.Equal(t, "phone", rotated.userAgent(Target{Mobile: true}))
	require.Equal(t, "custom", rotated.userAgent(Target{UserAgent: "custom"}))

	empty := NewManager(&fakeProvider{}, Config{UserAgent: "desk"}, nil, WithUserAgents(proxy.New(nil)))
	require.Equal(t, "desk", empty.userAgent(Target{}))
}

// --- fakes ---

func titleExtract(_ context.Context, _ Session, p Page) (scrape.PageData, error) {
	return scrape.PageData{URL: p.URL, Title: p.Title}, nil
}

func recordSleep(into *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(_ context.Context, d time.Duration) error {
		if into != nil && d > 0 {
			mu.Lock()
			*into = append(*into, d)
			mu.Unlock()
		}
		return nil
	}
}

type fakePage struct {
	title  string
	html   string
	status int
	navErr error
	shot   []byte
}

type fakeProvider struct {
	mu       sync.Mutex
	pages    []fakePage
	sessions []*fakeSession
	configs  []SessionConfig
}

func (p *fakeProvider) NewSession(_ context.Context, cfg SessionConfig) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.sessions)
	if idx >= len(p.pages) {
		return nil, errors.New("no more scripted pages")
	}
	s := &fakeSession{page: p.pages[idx]}
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	return s, nil
}

func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *fakeProvider) allClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if !s.closed {
			return false
		}
	}
	return true
}

type fakeSession struct {
	page   fakePage
	closed bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) (Navigation, error) {
	if s.page.navErr != nil {
		return Navigation{}, s.page.navErr
	}
	return Navigation{StatusCode: s.page.status, FinalURL: url}, nil
}

func (s *fakeSession) Title(context.Context) (string, error) { return s.page.title, nil }
func (s *fakeSession) HTML(context.Context) (string, error)  { return s.page.html, nil }
func (s *fakeSession) Evaluate(_ context.Context, _ string, out any) error {
	if b, ok := out.(*bool); ok {
		*b = true
	}
	return nil
}
func (s *fakeSession) WaitVisible(context.Context, string) error { return nil }
func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	if s.page.shot == nil {
		return nil, errors.New("no screenshot")
	}
	return s.page.shot, nil
}
func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeProxies struct {
	mu        sync.Mutex
	next      string
	successes []string
	failures  []string
}

func (f *fakeProxies) Next() (string, bool) { return f.next, f.next != "" }
func (f *fakeProxies) ReportSuccess(a string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, a)
}
func (f *fakeProxies) ReportFailure(a string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, a)
}

type fakeBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *fakeBlobs) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = map[string][]byte{}
	}
	b.data[path] = body
	return "mem://" + path, nil
}

func (b *fakeBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.data))
	for k := range b.data {
		out = append(out, k)
	}
	return out
}
