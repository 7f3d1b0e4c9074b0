package api

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"rxfeedback/pkg/telemetry"
	"rxfeedback/services/auth"
	"rxfeedback/services/directory"
	"rxfeedback/services/feedback"
	"rxfeedback/services/reports"
	"rxfeedback/services/settings"
	"rxfeedback/services/syncapi"
)

const (
	serviceName         = "rxfeedback-api"
	defaultDownloadTTL  = 15 * time.Minute
	publicEmployeeLimit = 100
)

// DashboardFunc loads the live admin overview.
type DashboardFunc func(ctx context.Context) (reports.Dashboard, error)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP; zero disables limiting.
	RateLimit   int
	DownloadTTL time.Duration
	Metrics     *telemetry.Metrics
	Gatherer    prometheus.Gatherer
	Logger      zerolog.Logger
	Clock       func() time.Time
}

// Deps are the services behind the handlers. Dashboard and Ready are optional.
type Deps struct {
	Sessions   *feedback.Manager
	Clients    *feedback.Store
	Dispatcher *syncapi.Dispatcher
	Directory  *directory.Service
	Settings   *settings.Service
	Auth       *auth.Service
	Reports    *reports.Service
	Dashboard  DashboardFunc
	Ready      func(ctx context.Context) error
}

// API wires services and configuration for HTTP handlers.
type API struct {
	deps   Deps
	config Config
	log    zerolog.Logger
}

// New validates deps and applies defaults to cfg.
func New(deps Deps, cfg Config) (*API, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session manager is required")
	case deps.Clients == nil:
		return nil, errors.New("session store is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("sync dispatcher is required")
	case deps.Directory == nil:
		return nil, errors.New("directory is required")
	case deps.Settings == nil:
		return nil, errors.New("settings service is required")
	case deps.Auth == nil:
		return nil, errors.New("auth service is required")
	case deps.Reports == nil:
		return nil, errors.New("reports service is required")
	}

	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = defaultDownloadTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	return &API{
		deps:   deps,
		config: cfg,
		log:    cfg.Logger.With().Str("component", "api").Logger(),
	}, nil
}
