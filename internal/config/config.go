// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

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

	// Platform roles
	OwnerAddress   string // receives platform fees; immutable for the process lifetime
	ArbiterAddress string // initial arbiter; the owner can change it at runtime

	// Fee policy
	FeeRateBps uint32 // platform fee in basis points, 0-1000 inclusive

	// Security
	AdminSecret  string // X-Admin-Secret header for admin endpoints
	RateLimitRPS int
}

// Defaults.
const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultFeeRateBps = 250 // 2.5%
	DefaultRateLimit  = 100

	// MaxFeeRateBps is the inclusive upper bound for the platform fee rate.
	MaxFeeRateBps = 1000
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OwnerAddress:   strings.ToLower(os.Getenv("OWNER_ADDRESS")),
		ArbiterAddress: strings.ToLower(os.Getenv("ARBITER_ADDRESS")),
		FeeRateBps:     uint32(getEnvInt64("FEE_RATE_BPS", DefaultFeeRateBps)),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:   int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.OwnerAddress == "" {
		return fmt.Errorf("OWNER_ADDRESS is required")
	}
	if !isHexAddress(c.OwnerAddress) {
		return fmt.Errorf("OWNER_ADDRESS must be a 0x-prefixed 40-hex-char address")
	}
	if c.ArbiterAddress != "" && !isHexAddress(c.ArbiterAddress) {
		return fmt.Errorf("ARBITER_ADDRESS must be a 0x-prefixed 40-hex-char address")
	}
	if c.FeeRateBps > MaxFeeRateBps {
		return fmt.Errorf("FEE_RATE_BPS must be between 0 and %d", MaxFeeRateBps)
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

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

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
