package config

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiredVariables(t *testing.T) {
	// Clear all environment variables
	clearEnv := func() {
		os.Unsetenv("PORT")
		os.Unsetenv("TEMPORAL_ADDRESS")
		os.Unsetenv("TEMPORAL_NAMESPACE")
		os.Unsetenv("TASK_QUEUE")
		os.Unsetenv("GEN_API_BASE_URL")
		os.Unsetenv("GEN_API_KEY")
		os.Unsetenv("GATE_CAPACITY")
		os.Unsetenv("GATE_TIMEOUT")
		os.Unsetenv("SCRATCH_DIR")
		os.Unsetenv("AUDIT_DATABASE_URL")
		os.Unsetenv("AUDIT_RETENTION_DAYS")
		os.Unsetenv("S3_BUCKET")
		os.Unsetenv("S3_REGION")
		os.Unsetenv("AWS_ACCESS_KEY_ID")
		os.Unsetenv("AWS_SECRET_ACCESS_KEY")
		os.Unsetenv("LOG_FORMAT")
		os.Unsetenv("LOG_LEVEL")
	}

	t.Run("missing GEN_API_BASE_URL returns error", func(t *testing.T) {
		clearEnv()
		t.Setenv("GEN_API_KEY", "test-api-key")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGenAPIBaseURLRequired)
	})

	t.Run("missing GEN_API_KEY returns error", func(t *testing.T) {
		clearEnv()
		t.Setenv("GEN_API_BASE_URL", "https://gen.example.com")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGenAPIKeyRequired)
	})

	t.Run("all required variables present succeeds", func(t *testing.T) {
		clearEnv()
		t.Setenv("GEN_API_BASE_URL", "https://gen.example.com")
		t.Setenv("GEN_API_KEY", "test-api-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "https://gen.example.com", cfg.GenAPIBaseURL)
		assert.Equal(t, "test-api-key", cfg.GenAPIKey)
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEN_API_BASE_URL", "https://gen.example.com")
	t.Setenv("GEN_API_KEY", "test-api-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "localhost:7233", cfg.TemporalAddress)
	assert.Equal(t, "default", cfg.TemporalNamespace)
	assert.Equal(t, "genflow-media", cfg.TaskQueue)
	assert.Equal(t, 1, cfg.GateCapacity)
	assert.Equal(t, 5*time.Minute, cfg.GateTimeout)
	assert.Equal(t, "/tmp/genflow", cfg.ScratchDir)
	assert.Equal(t, 30, cfg.AuditRetentionDays)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("GEN_API_BASE_URL", "https://gen.example.com")
	t.Setenv("GEN_API_KEY", "custom-api-key")
	t.Setenv("PORT", "3000")
	t.Setenv("TEMPORAL_ADDRESS", "temporal.internal:7233")
	t.Setenv("TEMPORAL_NAMESPACE", "media")
	t.Setenv("TASK_QUEUE", "custom-queue")
	t.Setenv("GATE_CAPACITY", "4")
	t.Setenv("GATE_TIMEOUT", "90s")
	t.Setenv("SCRATCH_DIR", "/custom/scratch")
	t.Setenv("AUDIT_DATABASE_URL", "postgres://audit:pw@db/audit")
	t.Setenv("AUDIT_RETENTION_DAYS", "14")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "temporal.internal:7233", cfg.TemporalAddress)
	assert.Equal(t, "media", cfg.TemporalNamespace)
	assert.Equal(t, "custom-queue", cfg.TaskQueue)
	assert.Equal(t, 4, cfg.GateCapacity)
	assert.Equal(t, 90*time.Second, cfg.GateTimeout)
	assert.Equal(t, "/custom/scratch", cfg.ScratchDir)
	assert.Equal(t, "postgres://audit:pw@db/audit", cfg.AuditDatabaseURL)
	assert.Equal(t, 14, cfg.AuditRetentionDays)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidIntegerDefaults(t *testing.T) {
	t.Setenv("GEN_API_BASE_URL", "https://gen.example.com")
	t.Setenv("GEN_API_KEY", "test-api-key")
	t.Setenv("PORT", "not-a-number")
	t.Setenv("GATE_CAPACITY", "invalid")

	// go-envconfig returns an error when parsing fails
	_, err := Load()
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_AuditEnabled(t *testing.T) {
	assert.False(t, (&Config{}).AuditEnabled())
	assert.True(t, (&Config{AuditDatabaseURL: "postgres://audit:pw@db/audit"}).AuditEnabled())
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:             8080,
		TemporalAddress:  "localhost:7233",
		GenAPIBaseURL:    "https://gen.example.com",
		GenAPIKey:        "secret-key",
		AuditDatabaseURL: "postgres://audit:hunter2@db/audit",
		ScratchDir:       "/tmp/test",
		S3Bucket:         "bucket",
		S3Region:         "region",
		LogFormat:        "json",
		LogLevel:         "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "https://gen.example.com")
	assert.Contains(t, str, "/tmp/test")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "hunter2")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)

	// Capture output to verify it's JSON
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	testLogger := slog.New(handler)
	testLogger.Info("test message")

	// Should have JSON structure
	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	// Just verify it returns a valid logger
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := &Config{
			GenAPIBaseURL: "https://gen.example.com",
			GenAPIKey:     "key",
		}
		err := cfg.Validate()
		assert.NoError(t, err)
	})

	t.Run("missing base URL", func(t *testing.T) {
		cfg := &Config{
			GenAPIKey: "key",
		}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrGenAPIBaseURLRequired)
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := &Config{
			GenAPIBaseURL: "https://gen.example.com",
		}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrGenAPIKeyRequired)
	})
}
