// Package main is the entry point for the journey services.
// The service to run is selected by the SERVICE_TYPE environment variable.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitalis-labs/service_layer/internal/app"
	"github.com/vitalis-labs/service_layer/internal/config"
	"github.com/vitalis-labs/service_layer/internal/logging"
	accounts "github.com/vitalis-labs/service_layer/services/accounts/api"
	motivation "github.com/vitalis-labs/service_layer/services/motivation/api"
)

// ServiceRunner is what every deployable service exposes to main.
type ServiceRunner interface {
	Run(ctx context.Context) error
}

var availableServices = []string{motivation.ServiceID, accounts.ServiceID}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewFromEnv("service").Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.ServiceType, cfg.LogLevel, cfg.LogFormat)

	servicesCfg := config.LoadServicesConfigOrDefault(cfg.ServicesFile)
	settings := servicesCfg.Service(cfg.ServiceType)
	if settings == nil {
		logger.Fatalf("Unknown SERVICE_TYPE %q. Available services: %v", cfg.ServiceType, availableServices)
	}
	if !settings.Enabled {
		logger.Infof("Service %s is disabled in configuration, exiting gracefully", cfg.ServiceType)
		os.Exit(0)
	}
	port := settings.Port
	if cfg.Port != 0 {
		port = cfg.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		svc     ServiceRunner
		cleanup = func() error { return nil }
	)
	switch cfg.ServiceType {
	case motivation.ServiceID:
		application, appErr := app.New(ctx, cfg, logger)
		if appErr != nil {
			logger.Fatalf("Failed to build application: %v", appErr)
		}
		cleanup = application.Close

		svc, err = motivation.New(motivation.Config{
			Port:           port,
			Logger:         logger,
			Metrics:        application.Metrics,
			Sessions:       application.Sessions,
			Topics:         application.Topics,
			Store:          application.Store,
			JWTSecret:      cfg.Supabase.JWTSecret,
			CORSOrigins:    cfg.CORSOrigins,
			RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
			RateLimitBurst: cfg.RateLimit.Burst,
			SessionIdle:    cfg.SessionIdle,
		})

	case accounts.ServiceID:
		repo, repoErr := app.NewSupabaseRepository(cfg)
		if repoErr != nil {
			logger.Fatalf("Failed to create database client: %v", repoErr)
		}
		if cfg.Email.APIKey == "" {
			logger.Warn("EMAIL_API_KEY not set; outgoing email will be rejected by the provider")
		}
		mailer := accounts.NewResendMailer(cfg.Email.APIURL, cfg.Email.APIKey, cfg.Email.From,
			&http.Client{Timeout: 15 * time.Second})

		svc, err = accounts.New(accounts.Config{
			Port:          port,
			Logger:        logger,
			Repo:          repo,
			Mailer:        mailer,
			JWTSecret:     cfg.Supabase.JWTSecret,
			CORSOrigins:   cfg.CORSOrigins,
			WebhookSecret: cfg.Payments.WebhookSecret,
			SupportEmail:  cfg.Email.SupportEmail,
		})

	default:
		logger.Fatalf("Unknown SERVICE_TYPE %q. Available services: %v", cfg.ServiceType, availableServices)
	}
	if err != nil {
		logger.Fatalf("Failed to create %s service: %v", cfg.ServiceType, err)
	}

	logger.Infof("Starting %s service on port %d", cfg.ServiceType, port)
	runErr := svc.Run(ctx)
	if err := cleanup(); err != nil {
		logger.WithError(err).Warn("cleanup failed")
	}
	if runErr != nil {
		logger.Fatalf("Service stopped: %v", runErr)
	}
	logger.Info("Service stopped")
}
