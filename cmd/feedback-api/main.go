package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rxfeedback/internal/app"
	"rxfeedback/internal/config"
	"rxfeedback/internal/otel"
	"rxfeedback/pkg/db"
	"rxfeedback/pkg/telemetry"
	"rxfeedback/services/api"
)

const serviceName = "rxfeedback-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := cfg.Logger(serviceName)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("feedback api stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	cleanup, err := otel.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown otel")
		}
	}()

	if err := db.Migrate(ctx, cfg.DBDSN); err != nil {
		return err
	}

	services, err := app.New(ctx, cfg, logger, app.Options{
		ClientName: serviceName,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	defer services.Close()

	scheduler, err := services.Scheduler(ctx, cfg.SweepSchedule, cfg.ReportSchedule)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	metrics, err := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	handlers, err := api.New(api.Deps{
		Sessions:   services.Sessions,
		Clients:    services.Store,
		Dispatcher: services.Dispatcher,
		Directory:  services.Directory,
		Settings:   services.Settings,
		Auth:       services.Auth,
		Reports:    services.Reports,
		Dashboard:  services.Dashboard,
		Ready:      services.Ready,
	}, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	router, err := handlers.Routes()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("starting feedback api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown server")
	}
	return nil
}
