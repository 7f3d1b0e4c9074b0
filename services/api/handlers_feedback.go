package api

import (
	"net/http"

	"rxfeedback/pkg/db"
	"rxfeedback/services/directory"
	"rxfeedback/services/feedback"
	"rxfeedback/services/syncapi"
)

// handleSync runs one kiosk step. Every outcome is a tagged body whose
// success flag agrees with the status code.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	req, err := syncapi.Parse(r)
	if err != nil {
		status, res := syncapi.Respond(feedback.Record{}, err)
		respondJSON(w, status, res)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rec, err := a.deps.Dispatcher.Dispatch(ctx, req)
	status, res := syncapi.Respond(rec, err)
	if status == http.StatusInternalServerError {
		a.log.Error().Err(err).Str("operation", string(req.Operation())).Msg("sync failed")
	}
	respondJSON(w, status, res)
}

// handleGetSession returns a record with its effective status so a kiosk can
// tell an expired draft from a live one.
func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rec, err := a.deps.Sessions.Get(ctx, id)
	if err == nil {
		rec.Status = feedback.EffectiveStatus(rec, a.config.Clock())
	}
	status, res := syncapi.Respond(rec, err)
	respondJSON(w, status, res)
}

func (a *API) handlePublicConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	s, err := a.deps.Settings.Get(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Public())
}

// handlePublicEmployees lists the active employees a customer can rate.
func (a *API) handlePublicEmployees(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	page := db.Page{Size: publicEmployeeLimit, Sort: "firstName"}
	employees, _, err := a.deps.Directory.ListEmployees(ctx, page, directory.EmployeeFilter{ActiveOnly: true})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	type publicEmployee struct {
		ID        string `json:"id"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Position  string `json:"position,omitempty"`
		PhotoURL  string `json:"photoUrl,omitempty"`
	}
	out := make([]publicEmployee, 0, len(employees))
	for _, e := range employees {
		out = append(out, publicEmployee{
			ID:        e.ID.String(),
			FirstName: e.FirstName,
			LastName:  e.LastName,
			Position:  e.Position,
			PhotoURL:  e.PhotoURL,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"employees": out})
}
