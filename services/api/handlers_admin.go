package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rxfeedback/pkg/db"
	"rxfeedback/services/reports"
	"rxfeedback/services/settings"
)

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	s, err := a.deps.Settings.Get(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"settings": s})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	s, err := a.deps.Settings.Update(ctx, patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"settings": s})
}

func (a *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	page := pageFrom(r)

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	items, total, err := a.deps.Reports.List(ctx, page)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, db.NewResult(items, total, page))
}

// handleBuildReport builds the report for month (YYYY-MM), defaulting to the
// previous calendar month.
func (a *API) handleBuildReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month string `json:"month"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	period := reports.MonthOf(a.config.Clock()).Previous()
	if month := strings.TrimSpace(req.Month); month != "" {
		p, err := reports.ParseMonth(month)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("month must be YYYY-MM: %w", err))
			return
		}
		period = p
	}

	// Building uploads an archive, so it gets longer than the default timeout.
	report, err := a.deps.Reports.Build(r.Context(), period)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	report, err := a.deps.Reports.Get(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	url, err := a.deps.Reports.DownloadURL(ctx, id, a.config.DownloadTTL)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresAt": a.config.Clock().Add(a.config.DownloadTTL).UTC(),
	})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if a.deps.Dashboard == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("dashboard statistics are not available"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	d, err := a.deps.Dashboard(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}
