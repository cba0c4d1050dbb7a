// Package service provides the HTTP service foundation shared by the
// motivation and accounts services.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitalis-labs/service_layer/internal/logging"
	"github.com/vitalis-labs/service_layer/internal/metrics"
	"github.com/vitalis-labs/service_layer/internal/middleware"
)

const (
	healthCheckTimeout = 5 * time.Second
	shutdownTimeout    = 15 * time.Second
)

// Pinger is a dependency probed by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	ID      string
	Name    string
	Version string
	Port    int
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// Checks are probed by /health. A failing check marks the service unhealthy.
	Checks      map[string]Pinger
	CORSOrigins []string
}

// BaseService owns the router, the HTTP server and background workers. It
// provides:
// - Safe stop channel management (sync.Once prevents double-close panic)
// - Optional hydration hook run before serving
// - Background worker management
// - Statistics provider for /info endpoint
type BaseService struct {
	id      string
	name    string
	version string
	port    int

	router  *mux.Router
	logger  *logging.Logger
	metrics *metrics.Metrics
	cors    *middleware.CORSMiddleware
	tracing *middleware.TracingMiddleware

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	hydrate func(context.Context) error
	statsFn func() map[string]any
	workers []func(context.Context)

	checks          map[string]Pinger
	healthMu        sync.RWMutex
	checkResults    map[string]string
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewFromEnv(cfg.Name)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	b := &BaseService{
		id:           cfg.ID,
		name:         cfg.Name,
		version:      cfg.Version,
		port:         cfg.Port,
		router:       mux.NewRouter(),
		logger:       logger,
		metrics:      m,
		cors:         middleware.NewCORSMiddleware(origins),
		tracing:      middleware.NewTracingMiddleware(logger),
		stopCh:       make(chan struct{}),
		checks:       cfg.Checks,
		checkResults: make(map[string]string),
	}
	b.router.Use(middleware.LoggingMiddleware(logger), middleware.MetricsMiddleware(cfg.Name, m))
	return b
}

// ID returns the service id.
func (b *BaseService) ID() string { return b.id }

// Name returns the service name.
func (b *BaseService) Name() string { return b.name }

// Version returns the service version.
func (b *BaseService) Version() string { return b.version }

// Router returns the service router.
func (b *BaseService) Router() *mux.Router { return b.router }

// Logger returns the service logger.
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// Metrics returns the service metrics.
func (b *BaseService) Metrics() *metrics.Metrics { return b.metrics }

// Handler returns the full handler chain: CORS and tracing wrap the router so
// they also apply to preflight and unmatched requests.
func (b *BaseService) Handler() http.Handler {
	return b.cors.Handler(b.tracing.Handler(b.router))
}

// WithHydrate sets an optional hook executed during Start, before workers.
func (b *BaseService) WithHydrate(fn func(context.Context) error) *BaseService {
	b.hydrate = fn
	return b
}

// WithStats sets a statistics provider function for the /info endpoint.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddWorker registers a background worker started after hydrate completes.
// Workers must return when ctx is done or StopChan is closed.
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// AddTickerWorker registers a periodic background worker.
func (b *BaseService) AddTickerWorker(interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.logger.WithContext(ctx).WithError(err).Warn("worker error")
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// Start runs hydrate once, then spins workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	if b.hydrate != nil {
		if err := b.hydrate(ctx); err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
	}

	for _, w := range b.workers {
		worker := w
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			worker(ctx)
		}()
	}
	return nil
}

// Stop signals workers and waits for them. It is idempotent.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
	return nil
}

// Run starts the service and serves HTTP until ctx is done, then shuts the
// server down gracefully.
func (b *BaseService) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", b.port),
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.WithFields(map[string]interface{}{"port": b.port, "version": b.version}).Info("service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = b.Stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	_ = b.Stop()
	b.logger.Info("service stopped")
	return err
}

// CheckHealth refreshes the cached health state by probing every check.
func (b *BaseService) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make(map[string]string, len(b.checks))
	for name, check := range b.checks {
		if check == nil {
			continue
		}
		if err := check.Ping(ctx); err != nil {
			b.logger.WithContext(ctx).WithError(err).WithField("check", name).Warn("health check failed")
			results[name] = "down"
			continue
		}
		results[name] = "up"
	}

	b.healthMu.Lock()
	b.checkResults = results
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus probes dependencies and returns the aggregated status.
func (b *BaseService) HealthStatus(ctx context.Context) string {
	b.CheckHealth(ctx)
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	for _, result := range b.checkResults {
		if result != "up" {
			return "unhealthy"
		}
	}
	return "healthy"
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	names := make([]string, 0, len(b.checkResults))
	for name := range b.checkResults {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make(map[string]string, len(names))
	for _, name := range names {
		checks[name] = b.checkResults[name]
	}

	details := map[string]any{"checks": checks}
	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}

	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.String()
	return details
}
