// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrGenAPIBaseURLRequired is returned when GEN_API_BASE_URL is not set.
	ErrGenAPIBaseURLRequired = errors.New("config: GEN_API_BASE_URL is required")
	// ErrGenAPIKeyRequired is returned when GEN_API_KEY is not set.
	ErrGenAPIKeyRequired = errors.New("config: GEN_API_KEY is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Gateway settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Temporal settings
	TemporalAddress   string `env:"TEMPORAL_ADDRESS, default=localhost:7233" json:"temporal_address"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE, default=default" json:"temporal_namespace"`
	TaskQueue         string `env:"TASK_QUEUE, default=genflow-media" json:"task_queue"`

	// Generation service settings
	GenAPIBaseURL string `env:"GEN_API_BASE_URL, required" json:"gen_api_base_url"`
	GenAPIKey     string `env:"GEN_API_KEY, required" json:"-"` // Masked in JSON

	// Concurrency settings
	GateCapacity int           `env:"GATE_CAPACITY, default=1" json:"gate_capacity"`
	GateTimeout  time.Duration `env:"GATE_TIMEOUT, default=5m" json:"gate_timeout"`

	// Storage settings
	ScratchDir string `env:"SCRATCH_DIR, default=/tmp/genflow" json:"scratch_dir"`

	// Optional audit settings
	AuditDatabaseURL   string `env:"AUDIT_DATABASE_URL" json:"-"` // Masked in JSON
	AuditRetentionDays int    `env:"AUDIT_RETENTION_DAYS, default=30" json:"audit_retention_days"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX" json:"s3_key_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// AuditEnabled returns true if a durable audit database is configured.
func (c *Config) AuditEnabled() bool {
	return c.AuditDatabaseURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "GEN_API_BASE_URL") {
			return nil, ErrGenAPIBaseURLRequired
		}
		if strings.Contains(err.Error(), "GEN_API_KEY") {
			return nil, ErrGenAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.GenAPIBaseURL == "" {
		return ErrGenAPIBaseURLRequired
	}
	if c.GenAPIKey == "" {
		return ErrGenAPIKeyRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TemporalAddress: %s, TemporalNamespace: %s, TaskQueue: %s, GenAPIBaseURL: %s, GateCapacity: %d, GateTimeout: %s, ScratchDir: %s, AuditEnabled: %t, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TemporalAddress,
		c.TemporalNamespace,
		c.TaskQueue,
		c.GenAPIBaseURL,
		c.GateCapacity,
		c.GateTimeout,
		c.ScratchDir,
		c.AuditEnabled(),
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
