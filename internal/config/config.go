// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payout defaults. Tenants can override commission rate and hold
	// hours via platform settings; these are the platform-wide fallbacks.
	CommissionPercent int   // default commission rate, whole percent
	HoldHours         int   // clearance hold duration in hours
	MinWithdrawal     int64 // minimum withdrawal, whole shillings
	DailyLimit        int64 // maximum withdrawn per cook per day, whole shillings

	// OperatingTZ is the fixed timezone used to compute the daily
	// withdrawal window. Financial limit resets must stay stable under
	// deployment-region changes, so this is never the server locale.
	OperatingTZ string

	// Mobile-money gateway
	GatewayBaseURL string
	GatewayKey     string
	GatewaySecret  string
	GatewayTimeout time.Duration

	// Sweep intervals
	ClearanceSweepInterval    time.Duration
	TransferSweepInterval     time.Duration
	VerificationSweepInterval time.Duration
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultCommissionPercent = 15
	DefaultHoldHours         = 48
	DefaultMinWithdrawal     = 1000  // KES 1,000
	DefaultDailyLimit        = 50000 // KES 50,000
	DefaultOperatingTZ       = "Africa/Nairobi"
	DefaultGatewayTimeout    = 30 * time.Second
	DefaultSweepInterval     = 60 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                      getEnv("PORT", DefaultPort),
		Env:                       getEnv("ENV", DefaultEnv),
		LogLevel:                  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                 getEnv("LOG_FORMAT", "text"),
		DatabaseURL:               os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CommissionPercent:         int(getEnvInt64("COMMISSION_PERCENT", DefaultCommissionPercent)),
		HoldHours:                 int(getEnvInt64("HOLD_HOURS", DefaultHoldHours)),
		MinWithdrawal:             getEnvInt64("MIN_WITHDRAWAL", DefaultMinWithdrawal),
		DailyLimit:                getEnvInt64("DAILY_WITHDRAWAL_LIMIT", DefaultDailyLimit),
		OperatingTZ:               getEnv("OPERATING_TZ", DefaultOperatingTZ),
		GatewayBaseURL:            os.Getenv("GATEWAY_BASE_URL"),
		GatewayKey:                os.Getenv("GATEWAY_KEY"),
		GatewaySecret:             os.Getenv("GATEWAY_SECRET"),
		GatewayTimeout:            getEnvDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		ClearanceSweepInterval:    getEnvDuration("CLEARANCE_SWEEP_INTERVAL", DefaultSweepInterval),
		TransferSweepInterval:     getEnvDuration("TRANSFER_SWEEP_INTERVAL", DefaultSweepInterval),
		VerificationSweepInterval: getEnvDuration("VERIFICATION_SWEEP_INTERVAL", DefaultSweepInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.CommissionPercent < 0 || c.CommissionPercent > 100 {
		return fmt.Errorf("COMMISSION_PERCENT must be between 0 and 100")
	}
	if c.HoldHours < 0 {
		return fmt.Errorf("HOLD_HOURS must not be negative")
	}
	if c.MinWithdrawal <= 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must be positive")
	}
	if c.DailyLimit < c.MinWithdrawal {
		return fmt.Errorf("DAILY_WITHDRAWAL_LIMIT must be at least MIN_WITHDRAWAL")
	}
	if _, err := time.LoadLocation(c.OperatingTZ); err != nil {
		return fmt.Errorf("OPERATING_TZ %q is not a valid timezone: %w", c.OperatingTZ, err)
	}
	if !c.IsDevelopment() && c.GatewayBaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required outside development")
	}
	return nil
}

// Location returns the operating timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.OperatingTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
