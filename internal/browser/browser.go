// Package browser owns browser session lifecycles: acquisition through an
// injectable Provider, navigation, block detection, retries and cleanup.
package browser

import (
	"context"
	"time"
)

// SessionConfig configures one browser session.
type SessionConfig struct {
	Proxy          string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Mobile         bool
	Locale         string
	Stealth        bool
}

// Navigation is the outcome of loading a URL.
type Navigation struct {
	StatusCode int
	FinalURL   string
}

// Session is one isolated tab. Implementations must make Close idempotent.
type Session interface {
	Navigate(ctx context.Context, url string) (Navigation, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, js string, out any) error
	WaitVisible(ctx context.Context, selector string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Provider hands out sessions. The underlying browser is launched lazily on the
// first NewSession and exactly once, even under concurrent first use.
type Provider interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Close() error
}

// Page is what the Validate step observed, passed to the extraction callback.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Title      string
	HTML       string
	FetchedAt  time.Time
}
