package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the feedback API and CLI.
type Config struct {
	Addr            string        `env:"ADDR,default=:8080"`
	DBDSN           string        `env:"DB_DSN,required"`
	NATSURL         string        `env:"NATS_URL"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	RateLimit       int           `env:"RATE_LIMIT_PER_MINUTE,default=120"`
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY,required"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL,default=12h"`
	CookieDomain    string        `env:"COOKIE_DOMAIN"`
	CookieSecure    bool          `env:"COOKIE_SECURE,default=false"`
	SessionTimeout  int           `env:"SESSION_TIMEOUT_MINUTES,default=1440"`
	KioskTimeout    int           `env:"KIOSK_TIMEOUT_MINUTES,default=3"`
	SweepSchedule   string        `env:"SWEEP_SCHEDULE,default=@hourly"`
	ReportSchedule  string        `env:"REPORT_SCHEDULE,default=0 6 1 * *"`
	ReportBucket    string        `env:"REPORT_BUCKET"`
	SettingsFile    string        `env:"SETTINGS_FILE"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	LogFormat       string        `env:"LOG_FORMAT,default=json"`
	S3              S3Config      `env:", prefix=S3_"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// S3Config is read from the S3_* variables.
type S3Config struct {
	Endpoint       string `env:"ENDPOINT"`
	Region         string `env:"REGION,default=us-east-1"`
	AccessKey      string `env:"ACCESS_KEY"`
	SecretKey      string `env:"SECRET_KEY"`
	DisableTLS     bool   `env:"DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE,default=true"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads the configuration through l.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes")
	}
	if c.SessionTimeout <= 0 || c.KioskTimeout <= 0 {
		return fmt.Errorf("session and kiosk timeouts must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// S3Enabled reports whether report exports should be uploaded.
func (c Config) S3Enabled() bool {
	return c.ReportBucket != "" && c.S3.Endpoint != ""
}
