// Package server builds the scrape engine from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/admission"
	"github.com/JakeFAU/webscrape-engine/internal/api"
	"github.com/JakeFAU/webscrape-engine/internal/config"
	"github.com/JakeFAU/webscrape-engine/internal/dispatcher"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
	"github.com/JakeFAU/webscrape-engine/internal/webhook"
)

// App contains the engine's long-lived dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store    scrape.JobStore
	queue    scrape.Queue
	admitter *admission.Admitter
	dispatch *dispatcher.Dispatcher
	webhooks *webhook.Notifier
	ops      *api.Server

	redisClients map[string]*redis.Client
	checks       map[string]api.Check
	closers      []closer

	closeOnce sync.Once
}

type closer struct {
	name string
	fn   func(context.Context) error
}

func newApp(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:          cfg,
		logger:       logger,
		redisClients: make(map[string]*redis.Client),
		checks:       make(map[string]api.Check),
	}
}

// onClose registers a shutdown hook. Hooks run in reverse registration order.
func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Submit admits one scrape request.
func (a *App) Submit(ctx context.Context, req admission.Request) (admission.Handle, error) {
	h, err := a.admitter.Submit(ctx, req)
	if err != nil {
		return admission.Handle{}, fmt.Errorf("submit job: %w", err)
	}
	return h, nil
}

// Status returns the read model for jobID.
func (a *App) Status(ctx context.Context, jobID string) (scrape.Status, error) {
	st, err := a.admitter.Status(ctx, jobID)
	if err != nil {
		return scrape.Status{}, fmt.Errorf("job status: %w", err)
	}
	return st, nil
}

// Await polls jobID until it reaches a terminal state or ctx ends.
func (a *App) Await(ctx context.Context, jobID string, interval time.Duration) (scrape.Status, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := a.Status(ctx, jobID)
		if err != nil {
			return scrape.Status{}, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("await job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// PoolSize is the number of concurrent jobs the dispatcher allows.
func (a *App) PoolSize() int {
	return a.dispatch.Size()
}

// Handler exposes the ops HTTP surface.
func (a *App) Handler() http.Handler {
	return a.ops.Handler()
}

// RunPool runs the dispatcher until ctx ends and in-flight jobs and webhook
// deliveries finish.
func (a *App) RunPool(ctx context.Context) error {
	a.logger.Info("dispatcher started", zap.Int("pool_size", a.dispatch.Size()))
	err := a.dispatch.Run(ctx)
	a.webhooks.Wait()
	a.logger.Info("dispatcher stopped")
	if err != nil {
		return fmt.Errorf("run dispatcher: %w", err)
	}
	return nil
}

// Run starts the pool and the ops server and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	poolErr := make(chan error, 1)
	go func() {
		poolErr <- a.RunPool(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		a.logger.Error("ops server error", zap.Error(runErr))
		stop()
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("ops server shutdown error", zap.Error(err))
	}

	return errors.Join(runErr, <-poolErr, a.Close(shutdownCtx))
}

// Close releases every backend. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(ctx); err != nil {
				a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
		a.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
