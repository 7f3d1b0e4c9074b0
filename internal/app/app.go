package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"rxfeedback/internal/config"
	"rxfeedback/pkg/bus"
	"rxfeedback/pkg/db"
	"rxfeedback/pkg/render"
	"rxfeedback/pkg/s3"
	"rxfeedback/services/auth"
	"rxfeedback/services/directory"
	"rxfeedback/services/feedback"
	"rxfeedback/services/reports"
	"rxfeedback/services/settings"
	"rxfeedback/services/sweeper"
	"rxfeedback/services/syncapi"
)

// App is the set of services both binaries run against one database.
type App struct {
	DB         *gorm.DB
	Pool       *pgxpool.Pool
	Bus        *bus.Bus
	Store      *feedback.Store
	Sessions   *feedback.Manager
	Dispatcher *syncapi.Dispatcher
	Directory  *directory.Service
	Settings   *settings.Service
	Auth       *auth.Service
	Reports    *reports.Service
	Sweeper    *sweeper.Sweeper

	log     zerolog.Logger
	closers []func()
}

// Options selects the optional parts of the wiring.
type Options struct {
	ClientName string
	// Registerer receives the lifecycle counters when set.
	Registerer prometheus.Registerer
}

// New connects to the database and the optional bus and object store and
// wires every service. Connection failures to the bus are logged and the
// app runs without events.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{log: logger}
	if err := a.init(ctx, cfg, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, cfg config.Config, opts Options) error {
	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.DB = database
	a.closers = append(a.closers, func() {
		if err := db.Close(database); err != nil {
			a.log.Error().Err(err).Msg("close database")
		}
	})

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	if opts.Registerer != nil {
		if err := feedback.RegisterMetrics(opts.Registerer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL, opts.ClientName)
		if err != nil {
			a.log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("nats unavailable, events disabled")
		} else {
			a.Bus = b
			a.closers = append(a.closers, b.Close)
		}
	}

	defaults := settings.Defaults()
	defaults.SessionTimeoutMinutes = cfg.SessionTimeout
	defaults.KioskTimeoutMinutes = cfg.KioskTimeout
	if cfg.SettingsFile != "" {
		if defaults, err = settings.LoadFile(cfg.SettingsFile, defaults); err != nil {
			return fmt.Errorf("load settings file: %w", err)
		}
	}
	if a.Settings, err = settings.New(database, defaults); err != nil {
		return err
	}

	if a.Directory, err = directory.New(database); err != nil {
		return err
	}
	if a.Store, err = feedback.NewStore(database); err != nil {
		return err
	}

	managerCfg := feedback.ManagerConfig{
		Employees:             a.Directory,
		Logger:                a.log,
		DefaultTimeoutMinutes: cfg.SessionTimeout,
	}
	if a.Bus != nil {
		managerCfg.Events = a.Bus
	}
	if a.Sessions, err = feedback.NewManager(a.Store, managerCfg); err != nil {
		return err
	}
	if a.Dispatcher, err = syncapi.NewDispatcher(a.Sessions, a.Settings, a.log); err != nil {
		return err
	}

	if a.Auth, err = auth.New(database, auth.Config{
		SigningKey:   []byte(cfg.JWTSigningKey),
		TTL:          cfg.AccessTokenTTL,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
	}); err != nil {
		return err
	}

	engine, err := render.New()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	reportCfg := reports.Config{
		Names:      a.Directory,
		Recipients: a.Settings,
		Logger:     a.log,
	}
	if a.Bus != nil {
		reportCfg.Events = a.Bus
	}
	if cfg.S3Enabled() {
		objects, err := s3.New(ctx, s3.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			DisableTLS:     cfg.S3.DisableTLS,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		reportCfg.Objects = objects
		reportCfg.Bucket = cfg.ReportBucket
	}
	if a.Reports, err = reports.New(database, a.Store, a.Sessions, engine, reportCfg); err != nil {
		return err
	}

	if a.Sweeper, err = sweeper.New(a.Sessions, sweeper.Options{Logger: a.log}); err != nil {
		return err
	}
	return nil
}

// Dashboard loads the admin overview from the pool.
func (a *App) Dashboard(ctx context.Context) (reports.Dashboard, error) {
	return reports.LoadDashboard(ctx, a.Pool, time.Now())
}

// Ready reports whether the database answers and, when configured, the bus is
// connected.
func (a *App) Ready(ctx context.Context) error {
	if err := db.Ping(ctx, a.Pool); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Bus != nil && !a.Bus.Connected() {
		return errors.New("nats disconnected")
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
