package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitalis-labs/service_layer/internal/app/storage"
	"github.com/vitalis-labs/service_layer/internal/app/storage/postgres"
	"github.com/vitalis-labs/service_layer/internal/config"
	"github.com/vitalis-labs/service_layer/internal/database"
	"github.com/vitalis-labs/service_layer/internal/logging"
	"github.com/vitalis-labs/service_layer/internal/metrics"
	"github.com/vitalis-labs/service_layer/internal/notify"
	"github.com/vitalis-labs/service_layer/internal/platform/migrations"
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
	motivationsupabase "github.com/vitalis-labs/service_layer/services/motivation/supabase"
)

// Application holds the journey components built from configuration.
type Application struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Journey  *config.Journey
	Store    storage.Backend
	Notifier notify.Notifier
	Tracker  *progress.Tracker
	Sessions *progress.Sessions
	Topics   *topics.Controller

	closers []func() error
}

// New builds the application. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if logger == nil {
		logger = logging.New("app", cfg.LogLevel, cfg.LogFormat)
	}

	a := &Application{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(nil),
	}

	journey, err := config.LoadJourney(cfg.StepsFile, cfg.TopicsFile)
	if err != nil {
		return nil, err
	}
	a.Journey = journey

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	a.Notifier, err = a.buildNotifier(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Tracker, err = progress.NewTracker(progress.Config{
		Store:    store,
		Notifier: a.Notifier,
		Logger:   logger,
		Metrics:  a.Metrics,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Sessions = progress.NewSessions(a.Tracker, journey.Catalog)
	a.Topics = topics.NewController(topics.NewRepository(store, journey.Topics, a.Metrics), a.Sessions)
	return a, nil
}

// Close releases every opened resource.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) buildNotifier(ctx context.Context) (notify.Notifier, error) {
	sinks := notify.Multi{notify.NewLogNotifier(a.Logger)}
	if a.Config.Redis.Addr == "" {
		return sinks, nil
	}

	client, err := notify.NewRedisClient(ctx, notify.RedisConfig{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	redisNotifier := notify.NewRedisNotifier(client, a.Config.Redis.Channel, a.Logger)
	// Closers run in reverse, so queued notifications drain before the client closes.
	a.closers = append(a.closers, client.Close, redisNotifier.Close)
	return append(sinks, redisNotifier), nil
}

// OpenStore opens the backend selected by cfg.Store.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (storage.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store; progress is lost on restart")
		return storage.NewMemory(), noop, nil

	case "postgres":
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			ConnMaxLife:  cfg.Postgres.ConnMaxLife,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := migrations.Apply(ctx, store.DB()); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, store.Close, nil

	case "supabase", "":
		repo, err := NewSupabaseRepository(cfg)
		if err != nil {
			return nil, nil, err
		}
		return motivationsupabase.NewRepository(repo), noop, nil

	default:
		return nil, nil, fmt.Errorf("app: unknown store %q", cfg.Store)
	}
}

// NewSupabaseRepository creates the shared Supabase repository.
func NewSupabaseRepository(cfg *config.Config) (*database.Repository, error) {
	client, err := database.NewClient(database.Config{
		URL:        cfg.Supabase.URL,
		ServiceKey: cfg.Supabase.ServiceKey,
	})
	if err != nil {
		return nil, err
	}
	return database.NewRepository(client), nil
}
