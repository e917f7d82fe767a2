// Package collyfetcher implements the fast-tier HTTP fetch using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Request is a single fast-tier fetch.
type Request struct {
	URL       string
	UserAgent string
	Proxy     string
	Headers   http.Header
}

// Response is the raw HTTP result of a fetch.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher runs plain HTTP GETs through a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Robots enforcement happens upstream, so the collector ignores robots.txt.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	transport := newHTTPTransport(http.ProxyFromEnvironment)
	c.WithTransport(transport)
	return &Fetcher{cfg: cfg, transport: transport, baseCollector: c}
}

// Fetch executes a single HTTP GET. Non-2xx responses are returned, not treated as errors.
func (f *Fetcher) Fetch(ctx context.Context, request Request) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	collector, err := f.buildCollector(request, time.Now(), &result, &fetchErr)
	if err != nil {
		return Response{}, err
	}
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return Response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) (*colly.Collector, error) {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	if request.Proxy != "" {
		proxyURL, err := url.Parse(request.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", request.Proxy, err)
		}
		// Per-request transport so the shared pool never inherits a proxy.
		collector.WithTransport(newHTTPTransport(http.ProxyURL(proxyURL)))
	} else {
		collector.WithTransport(f.transport)
	}

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		final := request.URL
		if r.Request != nil && r.Request.URL != nil {
			final = r.Request.URL.String()
		}
		*result = Response{
			URL:        request.URL,
			FinalURL:   final,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			result.Headers = r.Headers.Clone()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit %s: %w: %w", target, scrape.ErrNavigation, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response %s: %w: %w", target, scrape.ErrNavigation, *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
