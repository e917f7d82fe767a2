// Package metrics exposes Prometheus collectors for the scrape engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	strategyExecutionsTotal    *prometheus.CounterVec
	strategyFallbacksTotal     *prometheus.CounterVec
	sessionAttemptsTotal       *prometheus.CounterVec
	antiBotDetectionsTotal     *prometheus.CounterVec
	proxyDisablesTotal         prometheus.Counter
	captchaSolvesTotal         *prometheus.CounterVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	admissionRejectionsTotal   *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	poolSize                   prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_total",
				Help: "Total number of jobs reaching a state, labeled by state.",
			},
			[]string{"state"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_job_duration_seconds",
				Help:    "Wall-clock job duration, labeled by final state.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"state"},
		)

		strategyExecutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_strategy_executions_total",
				Help: "Strategy executions, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		strategyFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_strategy_fallbacks_total",
				Help: "Escalations to the stealth strategy, labeled by reason.",
			},
			[]string{"reason"},
		)

		sessionAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_browser_session_attempts_total",
				Help: "Browser session attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		antiBotDetectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_anti_bot_detections_total",
				Help: "Block signatures detected, labeled by site.",
			},
			[]string{"site"},
		)

		proxyDisablesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrape_proxy_disables_total",
				Help: "Times a proxy was put into cooldown.",
			},
		)

		captchaSolvesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_captcha_solves_total",
				Help: "Captcha resolutions, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_webhook_deliveries_total",
				Help: "Webhook deliveries, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		admissionRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_admission_rejections_total",
				Help: "Submissions rejected at admission, labeled by reason.",
			},
			[]string{"reason"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_cache_lookups_total",
				Help: "Result cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		poolSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_pool_size",
				Help: "Worker pool concurrency computed at startup.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a job reaching state after d.
func ObserveJob(state string, d time.Duration) {
	Init()
	jobsTotal.WithLabelValues(state).Inc()
	if d > 0 {
		jobDurationSeconds.WithLabelValues(state).Observe(d.Seconds())
	}
}

// ObserveStrategy records one strategy execution.
func ObserveStrategy(name string, success bool) {
	Init()
	strategyExecutionsTotal.WithLabelValues(name, outcome(success)).Inc()
}

// ObserveFallback records an escalation to the stealth strategy.
func ObserveFallback(reason string) {
	Init()
	strategyFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveSessionAttempt records one browser session attempt.
func ObserveSessionAttempt(result string) {
	Init()
	sessionAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveAntiBot records a detected block page.
func ObserveAntiBot(site string) {
	Init()
	antiBotDetectionsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveProxyDisabled records a proxy entering cooldown.
func ObserveProxyDisabled() {
	Init()
	proxyDisablesTotal.Inc()
}

// ObserveCaptcha records a captcha resolution attempt.
func ObserveCaptcha(kind string, success bool) {
	Init()
	captchaSolvesTotal.WithLabelValues(kind, outcome(success)).Inc()
}

// ObserveWebhook records a delivery outcome: delivered, retried or abandoned.
func ObserveWebhook(result string) {
	Init()
	webhookDeliveriesTotal.WithLabelValues(result).Inc()
}

// ObserveAdmissionRejection records a rejected submission.
func ObserveAdmissionRejection(reason string) {
	Init()
	admissionRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveCache records a cache hit or miss.
func ObserveCache(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetPoolSize publishes the computed worker pool size.
func SetPoolSize(n int) {
	Init()
	poolSize.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
