// Package config loads and validates scrape engine configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	Pool      PoolConfig            `mapstructure:"pool"`
	Browser   BrowserConfig         `mapstructure:"browser"`
	Proxy     ProxyConfig           `mapstructure:"proxy"`
	Captcha   CaptchaConfig         `mapstructure:"captcha"`
	Strategy  StrategyConfig        `mapstructure:"strategy"`
	Extract   ExtractConfig         `mapstructure:"extract"`
	Robots    RobotsConfig          `mapstructure:"robots"`
	Cache     CacheConfig           `mapstructure:"cache"`
	Queue     QueueConfig           `mapstructure:"queue"`
	Store     StoreConfig           `mapstructure:"store"`
	Artifacts ArtifactsConfig       `mapstructure:"artifacts"`
	Webhook   WebhookConfig         `mapstructure:"webhook"`
	Admission AdmissionConfig       `mapstructure:"admission"`
	Events    EventsConfig          `mapstructure:"events"`
	Plans     map[string]PlanConfig `mapstructure:"plans"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the rotating file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Concurrency       int     `mapstructure:"concurrency"`
	MaxCPUs           int     `mapstructure:"max_cpus"`
	MaxMemoryMB       int     `mapstructure:"max_memory_mb"`
	UtilizationPct    int     `mapstructure:"utilization_pct"`
	BrowsersPerCore   float64 `mapstructure:"browsers_per_core"`
	RAMPerSessionMB   int     `mapstructure:"ram_per_session_mb"`
	FixedOverheadMB   int     `mapstructure:"fixed_overhead_mb"`
	JobTimeoutSeconds int     `mapstructure:"job_timeout_seconds"`
	MaxStarts         int     `mapstructure:"max_starts"`
	StartWindowSecs   int     `mapstructure:"start_window_seconds"`
}

// BrowserConfig configures session providers and the retry state machine.
type BrowserConfig struct {
	Headless         bool   `mapstructure:"headless"`
	ExecPath         string `mapstructure:"exec_path"`
	RemoteURL        string `mapstructure:"remote_url"`
	NavTimeoutSec    int    `mapstructure:"nav_timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffBaseMs    int    `mapstructure:"backoff_base_ms"`
	ViewportWidth    int    `mapstructure:"viewport_width"`
	ViewportHeight   int    `mapstructure:"viewport_height"`
	Locale           string `mapstructure:"locale"`
	UserAgent        string `mapstructure:"user_agent"`
	MobileUserAgent  string `mapstructure:"mobile_user_agent"`
	MaxParallel      int    `mapstructure:"max_parallel"`
	StealthEnabled   bool   `mapstructure:"stealth_enabled"`
	ForensicsEnabled bool   `mapstructure:"forensics_enabled"`
}

// ProxyConfig seeds the proxy rotator.
type ProxyConfig struct {
	List             string `mapstructure:"list"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	CooldownSeconds  int    `mapstructure:"cooldown_seconds"`
	// UserAgents is a comma-separated pool rotated for sessions without an explicit agent.
	UserAgents string `mapstructure:"user_agents"`
}

// CaptchaConfig configures the external solving service.
type CaptchaConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	SettleDelayMs  int    `mapstructure:"settle_delay_ms"`
}

// StrategyConfig tunes the fallback chain and LLM defaults.
type StrategyConfig struct {
	SoftFailureMinTitle   int    `mapstructure:"soft_failure_min_title"`
	SoftFailureMinContent int    `mapstructure:"soft_failure_min_content"`
	LLMEndpoint           string `mapstructure:"llm_endpoint"`
	LLMModel              string `mapstructure:"llm_model"`
	LLMAPIKey             string `mapstructure:"llm_api_key"`
	LLMTimeoutSeconds     int    `mapstructure:"llm_timeout_seconds"`
}

// ExtractConfig bounds extraction output and recursion fan-out.
type ExtractConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
	MaxLinks         int `mapstructure:"max_links"`
	MinImageSize     int `mapstructure:"min_image_size"`
	ChildFanOut      int `mapstructure:"child_fan_out"`
	// BudgetTTLSeconds is how long an idle crawl root keeps its page budget.
	BudgetTTLSeconds int `mapstructure:"budget_ttl_seconds"`
}

// RobotsConfig controls robots.txt enforcement.
type RobotsConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	RedisAddr  string `mapstructure:"redis_addr"`
	Memcached  string `mapstructure:"memcached_servers"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend   string `mapstructure:"backend"`
	Depth     int    `mapstructure:"depth"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// ArtifactsConfig selects where forensic screenshots and snapshots go.
type ArtifactsConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// WebhookConfig tunes result delivery.
type WebhookConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	BaseDelayMs    int `mapstructure:"base_delay_ms"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AdmissionConfig covers anonymous limits and quota counter storage.
type AdmissionConfig struct {
	AnonymousPerMinute int    `mapstructure:"anonymous_per_minute"`
	DefaultPlan        string `mapstructure:"default_plan"`
	StatusURLBase      string `mapstructure:"status_url_base"`
	QuotaBackend       string `mapstructure:"quota_backend"`
	QuotaRedisAddr     string `mapstructure:"quota_redis_addr"`
}

// EventsConfig selects where job lifecycle events are published.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PlanConfig is one row of the per-plan quota/rate-limit table.
type PlanConfig struct {
	MonthlyPages       int64 `mapstructure:"monthly_pages"`
	MonthlyAI          int64 `mapstructure:"monthly_ai"`
	RateLimitPerMinute int   `mapstructure:"rate_limit_per_minute"`
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("pool.concurrency", 0)
	v.SetDefault("pool.max_cpus", 0)
	v.SetDefault("pool.max_memory_mb", 0)
	v.SetDefault("pool.utilization_pct", 75)
	v.SetDefault("pool.browsers_per_core", 1.5)
	v.SetDefault("pool.ram_per_session_mb", 300)
	v.SetDefault("pool.fixed_overhead_mb", 512)
	v.SetDefault("pool.job_timeout_seconds", 120)
	v.SetDefault("pool.max_starts", 10)
	v.SetDefault("pool.start_window_seconds", 1)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.max_attempts", 3)
	v.SetDefault("browser.backoff_base_ms", 2000)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("browser.mobile_user_agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1")
	v.SetDefault("browser.max_parallel", 0)
	v.SetDefault("browser.stealth_enabled", true)
	v.SetDefault("browser.forensics_enabled", true)
	v.SetDefault("proxy.list", "")
	v.SetDefault("proxy.failure_threshold", 3)
	v.SetDefault("proxy.cooldown_seconds", 300)
	v.SetDefault("proxy.user_agents", "")
	v.SetDefault("captcha.api_key", "")
	v.SetDefault("captcha.endpoint", "https://2captcha.com")
	v.SetDefault("captcha.timeout_seconds", 120)
	v.SetDefault("captcha.poll_interval_ms", 5000)
	v.SetDefault("captcha.settle_delay_ms", 2000)
	v.SetDefault("strategy.soft_failure_min_title", 1)
	v.SetDefault("strategy.soft_failure_min_content", 100)
	v.SetDefault("strategy.llm_endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("strategy.llm_model", "gpt-4o-mini")
	v.SetDefault("strategy.llm_api_key", "")
	v.SetDefault("strategy.llm_timeout_seconds", 60)
	v.SetDefault("extract.max_content_length", 50000)
	v.SetDefault("extract.max_links", 100)
	v.SetDefault("extract.min_image_size", 50)
	v.SetDefault("extract.child_fan_out", 5)
	v.SetDefault("extract.budget_ttl_seconds", 86400)
	v.SetDefault("robots.user_agent", "webscrape-engine/1.0")
	v.SetDefault("robots.cache_ttl_seconds", 3600)
	v.SetDefault("robots.timeout_seconds", 5)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.memcached_servers", "localhost:11211")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_key", "scrape:queue")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("artifacts.backend", "memory")
	v.SetDefault("artifacts.base_dir", "forensics")
	v.SetDefault("artifacts.prefix", "forensics")
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.base_delay_ms", 2000)
	v.SetDefault("webhook.timeout_seconds", 10)
	v.SetDefault("admission.anonymous_per_minute", 5)
	v.SetDefault("admission.default_plan", "free")
	v.SetDefault("admission.status_url_base", "/v1/jobs/")
	v.SetDefault("admission.quota_backend", "memory")
	v.SetDefault("admission.quota_redis_addr", "localhost:6379")
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "scrape-jobs")
	v.SetDefault("plans", map[string]any{
		"free": map[string]any{"monthly_pages": 500, "monthly_ai": 50, "rate_limit_per_minute": 20},
		"pro":  map[string]any{"monthly_pages": 50000, "monthly_ai": 5000, "rate_limit_per_minute": 300},
	})
}

var (
	cacheBackends     = map[string]bool{"memory": true, "redis": true, "memcached": true}
	queueBackends     = map[string]bool{"memory": true, "redis": true}
	storeBackends     = map[string]bool{"memory": true, "postgres": true}
	artifactBackends  = map[string]bool{"memory": true, "local": true, "gcs": true}
	quotaBackends     = map[string]bool{"memory": true, "redis": true}
	eventBackends     = map[string]bool{"none": true, "memory": true, "pubsub": true}
	errUnknownBackend = errors.New("unknown backend")
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.Concurrency < 0 {
		return fmt.Errorf("pool.concurrency must be >= 0")
	}
	if c.Pool.UtilizationPct <= 0 || c.Pool.UtilizationPct > 100 {
		return fmt.Errorf("pool.utilization_pct must be in (0, 100]")
	}
	if c.Pool.RAMPerSessionMB <= 0 {
		return fmt.Errorf("pool.ram_per_session_mb must be > 0")
	}
	if c.Pool.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("pool.job_timeout_seconds must be > 0")
	}
	if c.Browser.MaxAttempts <= 0 {
		return fmt.Errorf("browser.max_attempts must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Proxy.FailureThreshold <= 0 {
		return fmt.Errorf("proxy.failure_threshold must be > 0")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook.max_attempts must be > 0")
	}
	if !cacheBackends[c.Cache.Backend] {
		return fmt.Errorf("cache.backend %q: %w", c.Cache.Backend, errUnknownBackend)
	}
	if !queueBackends[c.Queue.Backend] {
		return fmt.Errorf("queue.backend %q: %w", c.Queue.Backend, errUnknownBackend)
	}
	if !storeBackends[c.Store.Backend] {
		return fmt.Errorf("store.backend %q: %w", c.Store.Backend, errUnknownBackend)
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.backend is postgres")
	}
	if !artifactBackends[c.Artifacts.Backend] {
		return fmt.Errorf("artifacts.backend %q: %w", c.Artifacts.Backend, errUnknownBackend)
	}
	if c.Artifacts.Backend == "gcs" && c.Artifacts.GCSBucket == "" {
		return fmt.Errorf("artifacts.gcs_bucket must be set when artifacts.backend is gcs")
	}
	if !quotaBackends[c.Admission.QuotaBackend] {
		return fmt.Errorf("admission.quota_backend %q: %w", c.Admission.QuotaBackend, errUnknownBackend)
	}
	if !eventBackends[c.Events.Backend] {
		return fmt.Errorf("events.backend %q: %w", c.Events.Backend, errUnknownBackend)
	}
	if c.Events.Backend == "pubsub" && c.Events.ProjectID == "" {
		return fmt.Errorf("events.project_id must be set when events.backend is pubsub")
	}
	if _, ok := c.Plans[c.Admission.DefaultPlan]; !ok {
		return fmt.Errorf("admission.default_plan %q missing from plans", c.Admission.DefaultPlan)
	}
	return nil
}

// JobTimeout is the hard wall-clock budget for one job.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Pool.JobTimeoutSeconds) * time.Second
}

// ProxyList splits the comma-separated proxy list, dropping blanks.
func (c Config) ProxyList() []string { return splitList(c.Proxy.List) }

// UserAgentList parses the rotated user-agent pool.
func (c Config) UserAgentList() []string { return splitList(c.Proxy.UserAgents) }

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ms converts a millisecond knob to a Duration.
func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// BackoffBase is the browser retry unit delay.
func (c Config) BackoffBase() time.Duration { return ms(c.Browser.BackoffBaseMs) }

// WebhookBaseDelay is the webhook retry unit delay.
func (c Config) WebhookBaseDelay() time.Duration { return ms(c.Webhook.BaseDelayMs) }

// CacheTTL is the result cache expiry.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
