package chromedp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/browser"
)

func TestNewDoesNotLaunch(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxParallel: 2}, zap.NewNop())
	require.Equal(t, 2, cap(p.limiter))
	require.Nil(t, p.allocCtx)
	require.NoError(t, p.Close())
}

func TestAllocatorOptionsIncludeProxyAndExec(t *testing.T) {
	t.Parallel()

	p := New(Config{Headless: true, ExecPath: "/usr/bin/chromium"}, nil)
	base := len(p.allocatorOptions(""))
	require.Equal(t, base+1, len(p.allocatorOptions("http://proxy:8080")))
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, p.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.acquire(ctx), context.DeadlineExceeded)

	p.release()
	require.NoError(t, p.acquire(context.Background()))
}

func TestClosedProviderRefusesSessions(t *testing.T) {
	t.Parallel()

	p := New(Config{}, nil)
	require.NoError(t, p.Close())
	_, err := p.NewSession(context.Background(), browser.SessionConfig{})
	require.ErrorContains(t, err, "closed")
}

func TestResponseMetaCapturesDocumentOnly(t *testing.T) {
	t.Parallel()

	m := newResponseMeta()
	m.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://x/img.png"},
	})
	status, url := m.snapshot()
	require.Zero(t, status)
	require.Empty(t, url)

	m.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://x/final"},
	})
	status, url = m.snapshot()
	require.Equal(t, 200, status)
	require.Equal(t, "https://x/final", url)
}

// TestSessionAgainstLocalChrome needs a Chrome binary; set CHROME_PATH to run it.
func TestSessionAgainstLocalChrome(t *testing.T) {
	execPath := os.Getenv("CHROME_PATH")
	if execPath == "" {
		t.Skip("CHROME_PATH not set")
	}

	p := New(Config{Headless: true, ExecPath: execPath}, zap.NewNop())
	defer p.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := p.NewSession(ctx, browser.SessionConfig{ViewportWidth: 800, ViewportHeight: 600, Stealth: true})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	_, err = s.Navigate(ctx, "data:text/html,<title>hi</title><p id=x>ok</p>")
	require.NoError(t, err)
	title, err := s.Title(ctx)
	require.NoError(t, err)
	require.Equal(t, "hi", title)

	var text string
	require.NoError(t, s.Evaluate(ctx, `document.getElementById("x").textContent`, &text))
	require.Equal(t, "ok", text)
}
