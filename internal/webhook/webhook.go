// Package webhook delivers completed job payloads to caller-supplied endpoints.
// Delivery is detached from job state: failures are logged and abandoned.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/clock/system"
	"github.com/JakeFAU/webscrape-engine/internal/hash/sha256"
	"github.com/JakeFAU/webscrape-engine/internal/metrics"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// SignatureHeader carries "sha256=<hex hmac>" when a secret is configured.
const SignatureHeader = "X-Webhook-Signature"

// StatusCompleted is the only status ever delivered.
const StatusCompleted = "completed"

// Defaults applied by New for zero config values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultTimeout     = 10 * time.Second
)

// Delivery is one webhook send.
type Delivery struct {
	JobID  string
	URL    string
	Target string
	Secret string
	Data   *scrape.PageData
}

// Payload is the JSON body posted to the target.
type Payload struct {
	JobID  string           `json:"jobId"`
	URL    string           `json:"url"`
	Status string           `json:"status"`
	Data   *scrape.PageData `json:"data"`
}

// Config bounds delivery retries.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// Notifier posts payloads with linear backoff.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
	wg     sync.WaitGroup
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(n *Notifier) { n.client = c } }

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(n *Notifier) { n.sleep = fn }
}

// New constructs a Notifier.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  system.Sleep,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Backoff returns the wait after the given failed attempt (1-based).
func (n *Notifier) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * n.cfg.BaseDelay
}

// Dispatch delivers in the background. The caller's cancellation does not
// abort the delivery; Wait blocks until in-flight deliveries finish.
func (n *Notifier) Dispatch(ctx context.Context, d Delivery) {
	if d.Target == "" {
		return
	}
	detached := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Deliver(detached, d); err != nil {
			n.logger.Warn("webhook abandoned",
				zap.String("job_id", d.JobID),
				zap.String("target", d.Target),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every dispatched delivery has returned.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Deliver sends the payload synchronously, retrying up to MaxAttempts.
func (n *Notifier) Deliver(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(Payload{JobID: d.JobID, URL: d.URL, Status: StatusCompleted, Data: d.Data})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	var signature string
	if d.Secret != "" {
		signature = "sha256=" + sha256.Sign(d.Secret, body)
	}

	logger := n.logger.With(zap.String("job_id", d.JobID), zap.String("target", d.Target))
	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		lastErr = n.post(ctx, d.Target, body, signature)
		if lastErr == nil {
			metrics.ObserveWebhook("delivered")
			logger.Debug("webhook delivered", zap.Int("attempt", attempt))
			return nil
		}
		if attempt == n.cfg.MaxAttempts {
			break
		}
		metrics.ObserveWebhook("retry")
		wait := n.Backoff(attempt)
		logger.Info("webhook attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		if err := n.sleep(ctx, wait); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}
	metrics.ObserveWebhook("abandoned")
	return fmt.Errorf("deliver webhook: %w", lastErr)
}

func (n *Notifier) post(ctx context.Context, target string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
