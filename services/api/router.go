package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rxfeedback/pkg/telemetry"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.Middleware(serviceName, a.log, a.config.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.config.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if a.config.RateLimit > 0 {
			r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))
		}

		r.Route("/feedback", func(r chi.Router) {
			r.Post("/sync", a.handleSync)
			r.Get("/sessions/{id}", a.handleGetSession)
			r.Get("/config", a.handlePublicConfig)
			r.Get("/employees", a.handlePublicEmployees)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/auth/login", a.handleLogin)
			r.Post("/auth/logout", a.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(a.deps.Auth.Middleware)

				r.Get("/auth/me", a.handleMe)

				r.Get("/positions", a.handleListPositions)
				r.Post("/positions", a.handleCreatePosition)
				r.Patch("/positions/{id}", a.handleRenamePosition)
				r.Delete("/positions/{id}", a.handleDeletePosition)

				r.Get("/employees", a.handleListEmployees)
				r.Post("/employees", a.handleCreateEmployee)
				r.Get("/employees/{id}", a.handleGetEmployee)
				r.Patch("/employees/{id}", a.handleUpdateEmployee)
				r.Delete("/employees/{id}", a.handleDeleteEmployee)

				r.Get("/clients", a.handleListClients)

				r.Get("/settings", a.handleGetSettings)
				r.Patch("/settings", a.handleUpdateSettings)

				r.Get("/reports", a.handleListReports)
				r.Post("/reports", a.handleBuildReport)
				r.Get("/reports/{id}", a.handleGetReport)
				r.Get("/reports/{id}/download", a.handleReportDownload)

				r.Get("/stats/dashboard", a.handleDashboard)
			})
		})
	})

	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.deps.Ready(ctx); err != nil {
			a.log.Warn().Err(err).Msg("readiness check failed")
			respondError(w, http.StatusServiceUnavailable, errors.New("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
