package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/webscrape-engine/internal/clock/system"
)

// Solver exchanges a detection for a response token.
type Solver interface {
	Solve(ctx context.Context, pageURL string, d Detection) (string, error)
}

// ErrUnsupportedKind is returned for widget families the service cannot solve.
var ErrUnsupportedKind = errors.New("unsupported captcha kind")

const notReady = "CAPCHA_NOT_READY"

// TwoCaptcha talks to a 2Captcha-compatible in.php/res.php API.
type TwoCaptcha struct {
	endpoint     string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	sleep        func(context.Context, time.Duration) error
}

// TwoCaptchaOption customizes the client.
type TwoCaptchaOption func(*TwoCaptcha)

// WithHTTPClient swaps the HTTP client.
func WithHTTPClient(c *http.Client) TwoCaptchaOption {
	return func(t *TwoCaptcha) { t.client = c }
}

// WithPollInterval sets the res.php polling cadence.
func WithPollInterval(d time.Duration) TwoCaptchaOption {
	return func(t *TwoCaptcha) { t.pollInterval = d }
}

// WithSleeper replaces the wait between polls.
func WithSleeper(fn func(context.Context, time.Duration) error) TwoCaptchaOption {
	return func(t *TwoCaptcha) { t.sleep = fn }
}

// NewTwoCaptcha creates a solver client.
func NewTwoCaptcha(endpoint, apiKey string, opts ...TwoCaptchaOption) *TwoCaptcha {
	t := &TwoCaptcha{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 5 * time.Second,
		sleep:        system.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the task and polls until a token is ready or ctx ends.
func (t *TwoCaptcha) Solve(ctx context.Context, pageURL string, d Detection) (string, error) {
	form := url.Values{}
	form.Set("key", t.apiKey)
	form.Set("json", "1")
	form.Set("pageurl", pageURL)
	switch d.Kind {
	case KindRecaptchaV2:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", d.SiteKey)
	case KindHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", d.SiteKey)
	case KindTurnstile:
		form.Set("method", "turnstile")
		form.Set("sitekey", d.SiteKey)
	default:
		return "", fmt.Errorf("solve %s: %w", d.Kind, ErrUnsupportedKind)
	}
	if d.SiteKey == "" {
		return "", fmt.Errorf("solve %s: missing site key", d.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	submitted, err := t.do(req)
	if err != nil {
		return "", fmt.Errorf("submit captcha: %w", err)
	}
	if submitted.Status != 1 {
		return "", fmt.Errorf("submit captcha: service error %s", submitted.Request)
	}

	q := url.Values{}
	q.Set("key", t.apiKey)
	q.Set("action", "get")
	q.Set("id", submitted.Request)
	q.Set("json", "1")
	pollURL := t.endpoint + "/res.php?" + q.Encode()
	for {
		if err := t.sleep(ctx, t.pollInterval); err != nil {
			return "", fmt.Errorf("await captcha solution: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return "", fmt.Errorf("build poll request: %w", err)
		}
		res, err := t.do(req)
		if err != nil {
			return "", fmt.Errorf("poll captcha: %w", err)
		}
		switch {
		case res.Status == 1:
			return res.Request, nil
		case res.Request == notReady:
			continue
		default:
			return "", fmt.Errorf("poll captcha: service error %s", res.Request)
		}
	}
}

func (t *TwoCaptcha) do(req *http.Request) (apiResponse, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
