package config_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxfeedback/internal/config"
)

const signingKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":          "postgres://localhost/rx",
		"JWT_SIGNING_KEY": signingKey,
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 1440, cfg.SessionTimeout)
	assert.Equal(t, 3, cfg.KioskTimeout)
	assert.Equal(t, "@hourly", cfg.SweepSchedule)
	assert.Equal(t, "0 6 1 * *", cfg.ReportSchedule)
	assert.Equal(t, 12*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.False(t, cfg.S3Enabled())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":                "postgres://localhost/rx",
		"JWT_SIGNING_KEY":       signingKey,
		"CORS_ALLOWED_ORIGINS":  "https://a.example,https://b.example",
		"KIOSK_TIMEOUT_MINUTES": "5",
		"REPORT_BUCKET":         "reports",
		"S3_ENDPOINT":           "minio:9000",
		"S3_DISABLE_TLS":        "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.KioskTimeout)
	assert.True(t, cfg.S3.DisableTLS)
	assert.True(t, cfg.S3Enabled())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing dsn": {"JWT_SIGNING_KEY": signingKey},
		"short key":   {"DB_DSN": "x", "JWT_SIGNING_KEY": "short"},
		"bad timeout": {"DB_DSN": "x", "JWT_SIGNING_KEY": signingKey, "KIOSK_TIMEOUT_MINUTES": "0"},
		"bad level":   {"DB_DSN": "x", "JWT_SIGNING_KEY": signingKey, "LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(env))
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(&buf, "rxfeedback", "warn", "json")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, `"service":"rxfeedback"`))
}
