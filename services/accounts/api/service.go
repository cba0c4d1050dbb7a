// Package api implements the account handlers: admin user provisioning,
// payment webhooks, transactional email and reset request notification.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vitalis-labs/service_layer/internal/database"
	"github.com/vitalis-labs/service_layer/internal/logging"
	"github.com/vitalis-labs/service_layer/internal/metrics"
	"github.com/vitalis-labs/service_layer/internal/middleware"
	commonservice "github.com/vitalis-labs/service_layer/services/common/service"
)

const (
	ServiceID   = "accounts"
	ServiceName = "Accounts Service"
	Version     = "1.0.0"

	// MaxResetNoticesPerHour caps support emails per address.
	MaxResetNoticesPerHour = 3
)

// Service implements the accounts HTTP API.
type Service struct {
	*commonservice.BaseService

	repo          database.RepositoryInterface
	mailer        Mailer
	webhookSecret []byte
	supportEmail  string

	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
	validate *validator.Validate
	now      func() time.Time
}

// Config holds accounts service configuration.
type Config struct {
	Port        int
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Repo        database.RepositoryInterface
	Mailer      Mailer
	JWTSecret   string
	CORSOrigins []string

	WebhookSecret string
	SupportEmail  string

	// ResetRPS and ResetBurst throttle the public reset endpoint per client IP.
	ResetRPS   int
	ResetBurst int
}

// New creates the accounts service and registers its routes.
func New(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("accounts: repository is required")
	}
	if cfg.Mailer == nil {
		return nil, fmt.Errorf("accounts: mailer is required")
	}
	if cfg.ResetRPS <= 0 {
		cfg.ResetRPS = 1
	}
	if cfg.ResetBurst <= 0 {
		cfg.ResetBurst = 5
	}

	checks := map[string]commonservice.Pinger{}
	if p, ok := cfg.Repo.(commonservice.Pinger); ok {
		checks["supabase"] = p
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
		BaseService:   base,
		repo:          cfg.Repo,
		mailer:        cfg.Mailer,
		webhookSecret: []byte(cfg.WebhookSecret),
		supportEmail:  cfg.SupportEmail,
		auth:          middleware.NewAuthMiddleware(cfg.JWTSecret, base.Logger(), nil),
		limiter:       middleware.NewRateLimiter(cfg.ResetRPS, cfg.ResetBurst, base.Logger()),
		validate:      validator.New(),
		now:           time.Now,
	}
	if len(s.webhookSecret) == 0 {
		base.Logger().Warn("PAYMENT_WEBHOOK_SECRET is not set; payment webhooks will be rejected")
	}

	base.AddTickerWorker(time.Minute, func(context.Context) error {
		s.limiter.Cleanup(10 * time.Minute)
		return nil
	})

	s.registerRoutes()
	return s, nil
}
