package scrape

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	opts := Options{Recursive: true, LLMOnly: true}.WithDefaults()
	require.Equal(t, OptionsVersion, opts.Version)
	require.Equal(t, DefaultMaxContentLength, opts.MaxContentLength)
	require.Equal(t, DefaultMaxLinks, opts.MaxLinks)
	require.Equal(t, DefaultMaxDepth, opts.MaxDepth)
	require.Equal(t, DefaultMaxPages, opts.MaxPages)
	require.True(t, opts.UseAI)

	flat := Options{}.WithDefaults()
	require.Zero(t, flat.MaxDepth)
	require.Zero(t, flat.MaxPages)
}

func TestIdentityKeyIgnoresDeliveryFields(t *testing.T) {
	t.Parallel()

	a := Options{Recursive: true, MaxDepth: 2, MaxPages: 10}.WithDefaults()
	b := a
	b.Webhook = "https://hooks.example.com/x"
	b.WebhookSecret = "s3cret"
	b.Proxy = "http://proxy:8080"
	b.LLMAPIKey = "key"
	require.Equal(t, a.IdentityKey(), b.IdentityKey())

	c := a
	c.MaxDepth = 3
	require.NotEqual(t, a.IdentityKey(), c.IdentityKey())

	d := a
	d.UseAI = true
	require.NotEqual(t, a.IdentityKey(), d.IdentityKey())
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	u, err := NormalizeURL("  HTTPS://Example.COM/Path#frag ")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/Path", u.String())

	for _, bad := range []string{"", "ftp://example.com", "https://", "::nope"} {
		_, err := NormalizeURL(bad)
		require.Error(t, err, bad)
		require.True(t, errors.Is(err, ErrInvalidRequest), bad)
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", CacheKey("https://example.com"))
	require.Equal(t, "example.com", CacheKey("http://example.com/"))
	require.Equal(t, "example.com/blog/post", CacheKey("https://Example.com/blog/post/"))
	require.Equal(t, "example.com/search?q=go", CacheKey("https://example.com/search?q=go"))
}

func TestHostname(t *testing.T) {
	t.Parallel()

	require.Equal(t, "twitter.com", Hostname("https://www.Twitter.com/jack"))
	require.Equal(t, "", Hostname("%zz"))
}

func TestResultErrPreservesSentinel(t *testing.T) {
	t.Parallel()

	res := Failed(ErrAntiBotDetected)
	require.False(t, res.Success)
	require.Equal(t, CodeAntiBotDetected, res.Code)
	require.ErrorIs(t, res.Err(), ErrAntiBotDetected)

	require.NoError(t, Succeeded(PageData{Title: "ok"}).Err())
	require.Equal(t, CodeUnknown, CodeFor(errors.New("boom")))
}
