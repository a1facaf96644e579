// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/joho/godotenv"

	"github.com/treloxai/riskops/internal/report"
	"github.com/treloxai/riskops/internal/risk"
	"github.com/treloxai/riskops/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Scoring
	Currency    string // ISO 4217 code attached to cost estimates
	ReportTitle string

	// HTTP surface
	CORSOrigins    []string // "*" allows any origin
	RateLimitRPM   int
	RateLimitBurst int

	// Tracing; empty endpoint disables export
	OTLPEndpoint     string
	TraceSampleRatio float64

	// Client side (riskctl, MCP server)
	APIURL string

	// Alert webhooks; no URLs disables alerting
	AlertWebhookURLs   []string
	AlertWebhookSecret string
	AlertMinLevel      risk.Level
}

const (
	DefaultPort           = "8000"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultRateLimitRPM   = 120
	DefaultRateLimitBurst = 20
	DefaultAPIURL         = "http://127.0.0.1:8000"
	DefaultAlertMinLevel  = risk.LevelHigh
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		Currency:         strings.ToUpper(getEnv("CURRENCY", risk.DefaultCurrency)),
		ReportTitle:      getEnv("REPORT_TITLE", report.DefaultTitle),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:   int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1),
		APIURL:           getEnv("RISKOPS_API_URL", DefaultAPIURL),

		AlertWebhookURLs:   splitList(os.Getenv("ALERT_WEBHOOK_URLS")),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		AlertMinLevel:      risk.Level(strings.ToUpper(getEnv("ALERT_MIN_LEVEL", string(DefaultAlertMinLevel)))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production, got %q", c.Env)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	if !isCurrencyCode(c.Currency) {
		return fmt.Errorf("CURRENCY must be a 3-letter code, got %q", c.Currency)
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive")
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %v", c.TraceSampleRatio)
	}

	if c.APIURL != "" {
		if err := security.ValidateBaseURL(c.APIURL); err != nil {
			return fmt.Errorf("RISKOPS_API_URL: %w", err)
		}
	}

	for _, u := range c.AlertWebhookURLs {
		if err := security.ValidateBaseURL(u); err != nil {
			return fmt.Errorf("ALERT_WEBHOOK_URLS: %q: %w", u, err)
		}
	}
	if len(c.AlertWebhookURLs) > 0 {
		if _, ok := risk.ParseLevel(string(c.AlertMinLevel)); !ok {
			return fmt.Errorf("ALERT_MIN_LEVEL must be LOW, MEDIUM, HIGH or CRITICAL, got %q", c.AlertMinLevel)
		}
		if c.IsProduction() && c.AlertWebhookSecret == "" {
			return fmt.Errorf("ALERT_WEBHOOK_SECRET is required in production when alert webhooks are configured")
		}
	}

	return nil
}

// AlertsEnabled reports whether alert webhooks are configured.
func (c *Config) AlertsEnabled() bool {
	return len(c.AlertWebhookURLs) > 0
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
