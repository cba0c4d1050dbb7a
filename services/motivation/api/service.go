// Package api serves the motivation journey: step progress and topic answers.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vitalis-labs/service_layer/internal/logging"
	"github.com/vitalis-labs/service_layer/internal/metrics"
	"github.com/vitalis-labs/service_layer/internal/middleware"
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
	commonservice "github.com/vitalis-labs/service_layer/services/common/service"
)

const (
	ServiceID   = "motivation"
	ServiceName = "Motivation Service"
	Version     = "1.0.0"

	// DefaultSessionIdle is how long an unused session is kept in memory.
	DefaultSessionIdle = 30 * time.Minute
)

// Service implements the motivation HTTP API.
type Service struct {
	*commonservice.BaseService

	sessions    *progress.Sessions
	topics      *topics.Controller
	limiter     *middleware.RateLimiter
	auth        *middleware.AuthMiddleware
	validate    *validator.Validate
	sessionIdle time.Duration
}

// Config holds motivation service configuration.
type Config struct {
	Port        int
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Sessions    *progress.Sessions
	Topics      *topics.Controller
	Store       commonservice.Pinger
	JWTSecret   string
	CORSOrigins []string

	RateLimitRPS   int
	RateLimitBurst int
	SessionIdle    time.Duration
}

// New creates the motivation service and registers its routes.
func New(cfg Config) (*Service, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("motivation: sessions are required")
	}
	if cfg.Topics == nil {
		return nil, fmt.Errorf("motivation: topics controller is required")
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = DefaultSessionIdle
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2 * cfg.RateLimitRPS
	}

	checks := map[string]commonservice.Pinger{}
	if cfg.Store != nil {
		checks["store"] = cfg.Store
	}
	base := commonservice.NewBase(commonservice.BaseConfig{
		ID:          ServiceID,
		Name:        ServiceName,
		Version:     Version,
		Port:        cfg.Port,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
		Checks:      checks,
		CORSOrigins: cfg.CORSOrigins,
	})

	s := &Service{
		BaseService: base,
		sessions:    cfg.Sessions,
		topics:      cfg.Topics,
		limiter:     middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, base.Logger()),
		auth:        middleware.NewAuthMiddleware(cfg.JWTSecret, base.Logger(), commonservice.PublicPaths),
		validate:    validator.New(),
		sessionIdle: cfg.SessionIdle,
	}

	base.WithStats(s.statistics)
	base.AddTickerWorker(s.sessionIdle/2, s.evictIdleSessions)
	base.AddTickerWorker(time.Minute, func(context.Context) error {
		s.limiter.Cleanup(10 * time.Minute)
		return nil
	})

	s.registerRoutes()
	return s, nil
}

// Sessions returns the session registry.
func (s *Service) Sessions() *progress.Sessions {
	return s.sessions
}

func (s *Service) evictIdleSessions(ctx context.Context) error {
	if n := s.sessions.Evict(s.sessionIdle); n > 0 {
		s.Logger().WithContext(ctx).WithField("evicted", n).Debug("evicted idle sessions")
	}
	return nil
}

func (s *Service) statistics() map[string]any {
	return map[string]any{
		"active_sessions": s.sessions.Len(),
		"steps":           s.sessions.Catalog().Len(),
		"topics":          len(s.topics.Repository().Registry().List()),
	}
}
