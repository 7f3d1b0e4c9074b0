package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"rxfeedback/pkg/db"
	"rxfeedback/services/directory"
	"rxfeedback/services/feedback"
)

type positionRequest struct {
	Name string `json:"name"`
}

func (a *API) handleListPositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	positions, err := a.deps.Directory.ListPositions(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (a *API) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	position, err := a.deps.Directory.CreatePosition(ctx, req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"position": position})
}

func (a *API) handleRenamePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	position, err := a.deps.Directory.RenamePosition(ctx, id, req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"position": position})
}

func (a *API) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.deps.Directory.DeletePosition(ctx, id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListEmployees accepts active=true and positionId filters on top of
// the usual paging parameters.
func (a *API) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	page := pageFrom(r)
	filter := directory.EmployeeFilter{ActiveOnly: boolQuery(r, "active")}
	if raw := r.URL.Query().Get("positionId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		filter.PositionID = &id
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	employees, total, err := a.deps.Directory.ListEmployees(ctx, page, filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, db.NewResult(employees, total, page))
}

func (a *API) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var in directory.EmployeeInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	employee, err := a.deps.Directory.CreateEmployee(ctx, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"employee": employee})
}

func (a *API) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	employee, err := a.deps.Directory.GetEmployee(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"employee": employee})
}

func (a *API) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var in directory.EmployeeInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	employee, err := a.deps.Directory.UpdateEmployee(ctx, id, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"employee": employee})
}

func (a *API) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.deps.Directory.DeleteEmployee(ctx, id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// client is the admin view of a record that carries contact details.
type client struct {
	SessionID   uuid.UUID           `json:"sessionId"`
	DeviceID    string              `json:"deviceId"`
	Data        feedback.ClientData `json:"clientData"`
	Status      feedback.Status     `json:"status"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// handleListClients lists contact details left by customers; consent=true
// keeps only those who agreed to be contacted.
func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	page := pageFrom(r)
	filter := feedback.ClientFilter{ConsentOnly: boolQuery(r, "consent")}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	records, total, err := a.deps.Clients.ListClients(ctx, page, filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	now := a.config.Clock()
	out := make([]client, 0, len(records))
	for _, rec := range records {
		if rec.ClientData == nil {
			continue
		}
		c := client{
			SessionID:   rec.ID,
			DeviceID:    rec.DeviceID,
			Data:        *rec.ClientData,
			Status:      feedback.EffectiveStatus(rec, now),
			StartedAt:   rec.StartedAt,
			CompletedAt: rec.CompletedAt,
		}
		out = append(out, c)
	}
	respondJSON(w, http.StatusOK, db.NewResult(out, total, page))
}
