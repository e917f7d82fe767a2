package server

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/admission"
	"github.com/JakeFAU/webscrape-engine/internal/api"
	"github.com/JakeFAU/webscrape-engine/internal/artifacts/gcs"
	localartifacts "github.com/JakeFAU/webscrape-engine/internal/artifacts/local"
	memoryartifacts "github.com/JakeFAU/webscrape-engine/internal/artifacts/memory"
	"github.com/JakeFAU/webscrape-engine/internal/browser"
	chromedpprovider "github.com/JakeFAU/webscrape-engine/internal/browser/chromedp"
	rodprovider "github.com/JakeFAU/webscrape-engine/internal/browser/rod"
	"github.com/JakeFAU/webscrape-engine/internal/cache/memcached"
	memorycache "github.com/JakeFAU/webscrape-engine/internal/cache/memory"
	rediscache "github.com/JakeFAU/webscrape-engine/internal/cache/redis"
	"github.com/JakeFAU/webscrape-engine/internal/captcha"
	"github.com/JakeFAU/webscrape-engine/internal/classifier"
	"github.com/JakeFAU/webscrape-engine/internal/clock/system"
	"github.com/JakeFAU/webscrape-engine/internal/config"
	"github.com/JakeFAU/webscrape-engine/internal/crawl"
	redisbudget "github.com/JakeFAU/webscrape-engine/internal/crawl/redis"
	"github.com/JakeFAU/webscrape-engine/internal/dispatcher"
	"github.com/JakeFAU/webscrape-engine/internal/extract"
	collyfetcher "github.com/JakeFAU/webscrape-engine/internal/fetcher/colly"
	"github.com/JakeFAU/webscrape-engine/internal/governor"
	"github.com/JakeFAU/webscrape-engine/internal/hash/sha256"
	"github.com/JakeFAU/webscrape-engine/internal/id/uuid"
	"github.com/JakeFAU/webscrape-engine/internal/proxy"
	memorypublisher "github.com/JakeFAU/webscrape-engine/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/webscrape-engine/internal/publisher/pubsub"
	memoryqueue "github.com/JakeFAU/webscrape-engine/internal/queue/memory"
	redisqueue "github.com/JakeFAU/webscrape-engine/internal/queue/redis"
	"github.com/JakeFAU/webscrape-engine/internal/quota"
	memoryquota "github.com/JakeFAU/webscrape-engine/internal/quota/memory"
	redisquota "github.com/JakeFAU/webscrape-engine/internal/quota/redis"
	"github.com/JakeFAU/webscrape-engine/internal/ratelimit"
	"github.com/JakeFAU/webscrape-engine/internal/robots"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
	memorystore "github.com/JakeFAU/webscrape-engine/internal/storage/memory"
	pgstore "github.com/JakeFAU/webscrape-engine/internal/storage/postgres"
	"github.com/JakeFAU/webscrape-engine/internal/strategy"
	"github.com/JakeFAU/webscrape-engine/internal/webhook"
	"github.com/JakeFAU/webscrape-engine/internal/worker"
)

// Build creates every backend named by cfg and wires the engine together.
// On error, anything already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	app = newApp(cfg, logger)
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()
	app.logger.Info("building application dependencies")
	clock := system.New()

	if app.store, err = setupStore(ctx, app, clock); err != nil {
		return app, err
	}
	if app.queue, err = setupQueue(app); err != nil {
		return app, err
	}
	cache, err := setupCache(app)
	if err != nil {
		return app, err
	}
	counter, err := setupQuota(app)
	if err != nil {
		return app, err
	}
	blobs, err := setupArtifacts(ctx, app)
	if err != nil {
		return app, err
	}
	events, err := setupEvents(ctx, app)
	if err != nil {
		return app, err
	}

	plans, err := quota.NewTable(planTable(cfg.Plans), cfg.Admission.DefaultPlan)
	if err != nil {
		return app, fmt.Errorf("build plan table: %w", err)
	}
	app.admitter, err = admission.New(admission.Deps{
		Store:   app.store,
		Queue:   app.queue,
		Plans:   plans,
		Counter: counter,
		Limiter: ratelimit.New(),
		Hasher:  sha256.New(),
		IDs:     uuid.New(),
		Clock:   clock,
	}, admission.Config{
		AnonymousPerMinute: cfg.Admission.AnonymousPerMinute,
		StatusURLBase:      cfg.Admission.StatusURLBase,
	}, app.logger.Named("admission"))
	if err != nil {
		return app, fmt.Errorf("build admitter: %w", err)
	}

	chain := setupChain(app, clock, blobs)

	app.webhooks = webhook.New(webhook.Config{
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BaseDelay:   cfg.WebhookBaseDelay(),
		Timeout:     seconds(cfg.Webhook.TimeoutSeconds),
	}, app.logger.Named("webhook"))

	policy := robots.New(robots.Config{
		UserAgent: cfg.Robots.UserAgent,
		CacheTTL:  seconds(cfg.Robots.CacheTTLSeconds),
		Timeout:   seconds(cfg.Robots.TimeoutSeconds),
	}, app.logger.Named("robots"))

	deps := worker.Deps{
		Store:    app.store,
		Cache:    cache,
		Chain:    chain,
		Robots:   policy,
		Webhooks: app.webhooks,
		Expander: crawl.NewExpander(app.admitter, setupBudget(app), cfg.Extract.ChildFanOut, app.logger.Named("crawl")),
		Clock:    clock,
	}
	if events != nil {
		deps.Events = events
	}
	w, err := worker.New(deps, worker.Config{JobTimeout: cfg.JobTimeout(), EventTopic: cfg.Events.Topic}, app.logger.Named("worker"))
	if err != nil {
		return app, fmt.Errorf("build worker: %w", err)
	}

	size, err := poolSize(cfg.Pool, nil)
	if err != nil {
		return app, err
	}
	app.logger.Info("worker pool sized", zap.Int("pool_size", size))
	window := ratelimit.NewWindow(seconds(cfg.Pool.StartWindowSecs), cfg.Pool.MaxStarts)
	app.dispatch = dispatcher.New(app.queue, app.store, w, size, window, app.logger.Named("dispatcher"))

	app.ops = api.NewServer(app.checks, api.Config{}, app.logger.Named("api"))
	return app, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// poolSize applies the governor formula to the host, honoring configured ceilings.
func poolSize(p config.PoolConfig, read governor.MemoryReader) (int, error) {
	settings := governor.Settings{
		Override:        p.Concurrency,
		UtilizationPct:  p.UtilizationPct,
		BrowsersPerCore: p.BrowsersPerCore,
		RAMPerSessionMB: p.RAMPerSessionMB,
		FixedOverheadMB: p.FixedOverheadMB,
	}
	if p.Concurrency > 0 {
		return governor.Compute(governor.Resources{}, settings).N, nil
	}
	res, err := governor.Detect(read, p.MaxCPUs, p.MaxMemoryMB)
	if err != nil {
		return 0, fmt.Errorf("detect host resources: %w", err)
	}
	return governor.Compute(res, settings).N, nil
}

func planTable(in map[string]config.PlanConfig) map[string]quota.Plan {
	out := make(map[string]quota.Plan, len(in))
	for name, p := range in {
		out[name] = quota.Plan{
			Name:               name,
			MonthlyPages:       p.MonthlyPages,
			MonthlyAI:          p.MonthlyAI,
			RateLimitPerMinute: p.RateLimitPerMinute,
		}
	}
	return out
}

// redisClient returns one shared client per address and registers its
// readiness check and shutdown hook the first time an address is seen.
func (a *App) redisClient(addr string) *redis.Client {
	if c, ok := a.redisClients[addr]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	a.redisClients[addr] = c
	a.checks["redis:"+addr] = func(ctx context.Context) error { return c.Ping(ctx).Err() }
	a.onClose("redis:"+addr, func(context.Context) error { return c.Close() })
	return c
}

func setupStore(ctx context.Context, app *App, clock scrape.Clock) (scrape.JobStore, error) {
	switch app.cfg.Store.Backend {
	case "postgres":
		app.logger.Info("using postgres job store")
		store, err := pgstore.New(ctx, pgstore.Config{DSN: app.cfg.Store.DSN})
		if err != nil {
			return nil, fmt.Errorf("postgres job store: %w", err)
		}
		app.checks["postgres"] = store.Ping
		app.onClose("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		return store, nil
	default:
		app.logger.Info("using in-memory job store")
		return memorystore.NewJobStore(clock), nil
	}
}

// setupBudget keeps crawl budgets next to the queue: descendants pulled from a
// shared redis queue must see the same counters.
func setupBudget(app *App) crawl.Budget {
	ttl := seconds(app.cfg.Extract.BudgetTTLSeconds)
	if app.cfg.Queue.Backend == "redis" {
		return redisbudget.New(app.redisClient(app.cfg.Queue.RedisAddr), ttl)
	}
	return crawl.NewMemoryBudget(ttl)
}

func setupQueue(app *App) (scrape.Queue, error) {
	switch app.cfg.Queue.Backend {
	case "redis":
		app.logger.Info("using redis queue", zap.String("key", app.cfg.Queue.RedisKey))
		return redisqueue.New(app.redisClient(app.cfg.Queue.RedisAddr), app.cfg.Queue.RedisKey), nil
	default:
		q := memoryqueue.NewQueue(app.cfg.Queue.Depth)
		app.onClose("queue", func(context.Context) error { return q.Close() })
		return q, nil
	}
}

func setupCache(app *App) (scrape.ResultCache, error) {
	ttl := app.cfg.CacheTTL()
	switch app.cfg.Cache.Backend {
	case "redis":
		app.logger.Info("using redis result cache")
		return rediscache.New(app.redisClient(app.cfg.Cache.RedisAddr), ttl), nil
	case "memcached":
		app.logger.Info("using memcached result cache", zap.String("servers", app.cfg.Cache.Memcached))
		c, err := memcached.New(app.cfg.Cache.Memcached, ttl)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		return c, nil
	default:
		return memorycache.New(ttl), nil
	}
}

func setupQuota(app *App) (quota.Counter, error) {
	switch app.cfg.Admission.QuotaBackend {
	case "redis":
		return redisquota.New(app.redisClient(app.cfg.Admission.QuotaRedisAddr)), nil
	default:
		return memoryquota.New(), nil
	}
}

func setupArtifacts(ctx context.Context, app *App) (scrape.BlobStore, error) {
	cfg := app.cfg.Artifacts
	switch cfg.Backend {
	case "gcs":
		app.logger.Info("using GCS artifact store", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		app.onClose("gcs", func(context.Context) error { return client.Close() })
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store: %w", err)
		}
		return blobs, nil
	case "local":
		app.logger.Info("using local artifact store", zap.String("dir", cfg.BaseDir))
		blobs, err := localartifacts.New(localartifacts.Config{BaseDir: cfg.BaseDir, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("local artifact store: %w", err)
		}
		return blobs, nil
	default:
		return memoryartifacts.NewBlobStore(cfg.Prefix), nil
	}
}

func setupEvents(ctx context.Context, app *App) (scrape.Publisher, error) {
	switch app.cfg.Events.Backend {
	case "pubsub":
		app.logger.Info("publishing job events to pubsub", zap.String("topic", app.cfg.Events.Topic))
		pub, err := gcppublisher.Dial(ctx, app.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		app.onClose("pubsub", func(context.Context) error { return pub.Close() })
		return pub, nil
	case "memory":
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

// setupChain builds the browser stack and the strategy fallback chain.
func setupChain(app *App, clock scrape.Clock, blobs scrape.BlobStore) *strategy.Chain {
	cfg := app.cfg
	logger := app.logger

	rotator := proxy.New(cfg.ProxyList(),
		proxy.WithPolicy(cfg.Proxy.FailureThreshold, seconds(cfg.Proxy.CooldownSeconds)),
		proxy.WithClock(clock),
		proxy.WithLogger(logger.Named("proxy")),
		proxy.WithUserAgents(cfg.UserAgentList()),
	)

	var solver captcha.Solver
	if cfg.Captcha.APIKey != "" {
		solver = captcha.NewTwoCaptcha(cfg.Captcha.Endpoint, cfg.Captcha.APIKey,
			captcha.WithPollInterval(time.Duration(cfg.Captcha.PollIntervalMs)*time.Millisecond))
	}
	resolver := captcha.NewWorkflow(solver, captcha.Config{
		Timeout:     seconds(cfg.Captcha.TimeoutSeconds),
		SettleDelay: time.Duration(cfg.Captcha.SettleDelayMs) * time.Millisecond,
	}, logger.Named("captcha"))

	managerCfg := browser.Config{
		MaxAttempts:    cfg.Browser.MaxAttempts,
		BackoffBase:    cfg.BackoffBase(),
		NavTimeout:     seconds(cfg.Browser.NavTimeoutSec),
		Forensics:      cfg.Browser.ForensicsEnabled,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Locale:         cfg.Browser.Locale,
		UserAgent:      cfg.Browser.UserAgent,
		MobileAgent:    cfg.Browser.MobileUserAgent,
	}
	managerOpts := []browser.Option{
		browser.WithProxies(rotator),
		browser.WithUserAgents(rotator),
		browser.WithResolver(resolver),
		browser.WithArtifacts(blobs),
		browser.WithClock(clock),
	}

	chrome := chromedpprovider.New(chromedpprovider.Config{
		Headless:    cfg.Browser.Headless,
		ExecPath:    cfg.Browser.ExecPath,
		RemoteURL:   cfg.Browser.RemoteURL,
		MaxParallel: cfg.Browser.MaxParallel,
	}, logger.Named("chromedp"))
	app.onClose("chromedp", func(context.Context) error { return chrome.Close() })
	renderer := browser.NewManager(chrome, managerCfg, logger.Named("browser"), managerOpts...)

	// Stealth sessions go through rod unless disabled, in which case chromedp
	// installs the same evasion script.
	stealthRenderer := renderer
	if cfg.Browser.StealthEnabled {
		masked := rodprovider.New(rodprovider.Config{
			Headless:  cfg.Browser.Headless,
			ExecPath:  cfg.Browser.ExecPath,
			RemoteURL: cfg.Browser.RemoteURL,
		}, logger.Named("rod"))
		app.onClose("rod", func(context.Context) error { return masked.Close() })
		stealthRenderer = browser.NewManager(masked, managerCfg, logger.Named("browser.stealth"), managerOpts...)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Browser.UserAgent,
		Timeout:      seconds(cfg.Browser.NavTimeoutSec),
		MaxBodyBytes: 10 << 20,
	})

	limits := extract.DefaultLimits()
	if cfg.Extract.MaxContentLength > 0 {
		limits.MaxContentLength = cfg.Extract.MaxContentLength
	}
	if cfg.Extract.MaxLinks > 0 {
		limits.MaxLinks = cfg.Extract.MaxLinks
	}
	if cfg.Extract.MinImageSize > 0 {
		limits.MinImageSize = cfg.Extract.MinImageSize
	}

	llm := strategy.NewLLMClient(strategy.LLMConfig{
		Endpoint: cfg.Strategy.LLMEndpoint,
		Model:    cfg.Strategy.LLMModel,
		APIKey:   cfg.Strategy.LLMAPIKey,
		Timeout:  seconds(cfg.Strategy.LLMTimeoutSeconds),
	}, nil, logger.Named("llm"))

	strategies := []strategy.Strategy{
		strategy.NewLLM(renderer, llm, limits),
		strategy.NewSocial(renderer, limits),
		strategy.NewSearch(renderer, limits),
		strategy.NewGeneralWeb(classifier.New(classifier.DefaultLists()), fetcher, renderer, limits, logger.Named("general")),
		strategy.NewStealth(stealthRenderer, limits),
	}
	return strategy.NewChain(logger.Named("strategy"), strategies,
		strategy.WithSoftFailure(strategy.SoftFailure{
			MinTitleLen:   cfg.Strategy.SoftFailureMinTitle,
			MinContentLen: cfg.Strategy.SoftFailureMinContent,
		}),
		strategy.WithEnricher(llm),
	)
}
