// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Market settings
	TokenSymbol  string // Traded token, e.g. "BZR"
	FiatCurrency string // Fiat leg, e.g. "BRL"
	MinTrade     string
	MaxTrade     string

	// Escrow settings
	DefaultEscrowWindow time.Duration // Deadline for trades whose order sets no explicit limit
	SchedulerInterval   time.Duration // How often the deadline scheduler polls
	CustodianTimeout    time.Duration // Upper bound on a single custodian call

	// Security
	WebhookSecret string
	ArbiterSecret string // Shared secret for arbitration endpoints
	RateLimitRPM  int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultTokenSymbol     = "BZR"
	DefaultFiatCurrency    = "BRL"
	DefaultMinTrade        = "0.01"
	DefaultMaxTrade        = "1000000"
	DefaultEscrowMinutes   = 30
	DefaultSchedulerPollMS = 5000
	DefaultCustodianMS     = 10000
	DefaultRateLimit       = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		TokenSymbol:         getEnv("TOKEN_SYMBOL", DefaultTokenSymbol),
		FiatCurrency:        getEnv("FIAT_CURRENCY", DefaultFiatCurrency),
		MinTrade:            getEnv("MIN_TRADE", DefaultMinTrade),
		MaxTrade:            getEnv("MAX_TRADE", DefaultMaxTrade),
		DefaultEscrowWindow: time.Duration(getEnvInt64("DEFAULT_ESCROW_MINUTES", DefaultEscrowMinutes)) * time.Minute,
		SchedulerInterval:   time.Duration(getEnvInt64("SCHEDULER_POLL_MS", DefaultSchedulerPollMS)) * time.Millisecond,
		CustodianTimeout:    time.Duration(getEnvInt64("CUSTODIAN_TIMEOUT_MS", DefaultCustodianMS)) * time.Millisecond,
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		ArbiterSecret:       os.Getenv("ARBITER_SECRET"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.DefaultEscrowWindow <= 0 {
		return fmt.Errorf("DEFAULT_ESCROW_MINUTES must be positive")
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_MS must be positive")
	}
	if c.CustodianTimeout <= 0 {
		return fmt.Errorf("CUSTODIAN_TIMEOUT_MS must be positive")
	}
	if c.IsProduction() && c.ArbiterSecret == "" {
		return fmt.Errorf("ARBITER_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
