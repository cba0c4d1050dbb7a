// Package config loads runtime configuration from the environment and YAML files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the process configuration decoded from environment variables.
type Config struct {
	Environment string `env:"APP_ENV,default=development"`
	ServiceType string `env:"SERVICE_TYPE,default=motivation"`
	Port        int    `env:"PORT"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`

	// Store selects the persistence backend: supabase, postgres or memory.
	Store string `env:"PROGRESS_STORE,default=supabase"`

	ServicesFile string `env:"SERVICES_CONFIG,default=config/services.yaml"`
	StepsFile    string `env:"STEPS_CONFIG"`
	TopicsFile   string `env:"TOPICS_CONFIG"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`

	Supabase  SupabaseConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Email     EmailConfig
	Payments  PaymentsConfig
	RateLimit RateLimitConfig

	// SessionIdle is how long an unused journey session stays cached.
	SessionIdle time.Duration `env:"SESSION_IDLE_TIMEOUT,default=30m"`
}

// SupabaseConfig holds the managed platform endpoints and keys.
type SupabaseConfig struct {
	URL        string `env:"SUPABASE_URL"`
	ServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	JWTSecret  string `env:"SUPABASE_JWT_SECRET"`
}

// PostgresConfig configures the direct database connection.
type PostgresConfig struct {
	DSN          string        `env:"DATABASE_URL"`
	MaxOpenConns int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLife  time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	// AutoMigrate applies the embedded schema on start.
	AutoMigrate bool `env:"DATABASE_AUTO_MIGRATE,default=false"`
}

// RedisConfig configures the notification fan-out. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
	Channel  string `env:"REDIS_NOTIFY_PREFIX,default=notifications"`
}

// EmailConfig configures the transactional email provider.
type EmailConfig struct {
	APIURL       string `env:"EMAIL_API_URL,default=https://api.resend.com"`
	APIKey       string `env:"EMAIL_API_KEY"`
	From         string `env:"EMAIL_FROM,default=Coach <coach@example.com>"`
	SupportEmail string `env:"SUPPORT_EMAIL,default=support@example.com"`
}

// PaymentsConfig configures payment webhook verification.
type PaymentsConfig struct {
	WebhookSecret string `env:"PAYMENT_WEBHOOK_SECRET"`
}

// RateLimitConfig configures per caller request throttling.
type RateLimitConfig struct {
	RequestsPerSecond int `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int `env:"RATE_LIMIT_BURST,default=40"`
}

// Load reads an optional .env file and decodes the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// Missing .env files are fine; real environments set variables directly.
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross field requirements.
func (c *Config) Validate() error {
	switch c.Store {
	case "supabase":
		if c.IsProduction() && c.Supabase.URL == "" {
			return fmt.Errorf("SUPABASE_URL is required when PROGRESS_STORE=supabase")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when PROGRESS_STORE=postgres")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("PROGRESS_STORE=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown PROGRESS_STORE %q", c.Store)
	}

	if c.IsProduction() && c.Supabase.JWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production") || strings.EqualFold(c.Environment, "prod")
}
