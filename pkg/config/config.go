// Package config loads process configuration from the environment. The
// resulting Config is immutable and passed explicitly through the component
// graph; there is no module-level state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full application configuration for both the API server and
// the worker binaries.
type Config struct {
	DatabaseURL string `validate:"required"`
	RedisURL    string `validate:"required"`

	// Object store (S3-compatible).
	S3Endpoint  string
	S3Region    string `validate:"required"`
	S3Bucket    string `validate:"required"`
	S3AccessKey string
	S3SecretKey string

	// LLM provider.
	AnthropicAPIKey string `validate:"required"`
	AnthropicModel  string `validate:"required"`

	// Auth.
	JWTSecret string        `validate:"required,min=32"`
	JWTExpiry time.Duration `validate:"required"`

	// HTTP.
	ListenPort  int      `validate:"required,min=1,max=65535"`
	CORSOrigins []string `validate:"required,min=1"`

	// Rate limiting (per authenticated user, falling back to client IP).
	RateLimitEnabled   bool
	RateLimitPerMinute int `validate:"min=1"`

	// Validation.
	DefaultProfile string `validate:"required,oneof=NETA MICROSOFT"`

	// Worker pool.
	WorkerConcurrency int `validate:"required,min=1"`
}

// Load reads configuration from the environment, applying defaults where the
// variable is unset, and validates the result.
func Load() (*Config, error) {
	expiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRY: %w", err)
	}

	port, err := strconv.Atoi(getenv("LISTEN_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PORT: %w", err)
	}

	rateCap, err := strconv.Atoi(getenv("RATE_LIMIT_PER_MINUTE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
	}

	concurrency, err := strconv.Atoi(getenv("WORKER_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           getenv("REDIS_URL", "redis://localhost:6379/0"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3Region:           getenv("S3_REGION", "us-east-1"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:     getenv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTExpiry:          expiry,
		ListenPort:         port,
		CORSOrigins:        splitNonEmpty(getenv("CORS_ORIGINS", "http://localhost:3000")),
		RateLimitEnabled:   getenv("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute: rateCap,
		DefaultProfile:     getenv("DEFAULT_STANDARD_PROFILE", "NETA"),
		WorkerConcurrency:  concurrency,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for completeness. Wildcard CORS origins
// are rejected because the API serves credentialed requests.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("invalid configuration: wildcard CORS origin not allowed with credentials")
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
