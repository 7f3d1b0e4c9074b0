package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"rxfeedback/pkg/db"
	"rxfeedback/services/auth"
	"rxfeedback/services/directory"
	"rxfeedback/services/feedback"
	"rxfeedback/services/reports"
	"rxfeedback/services/settings"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// fail maps err onto a status. Unexpected errors are logged and masked.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		a.log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		respondError(w, status, errors.New("internal error"))
		return
	}
	respondError(w, status, err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, feedback.ErrValidation),
		errors.Is(err, directory.ErrInvalid),
		errors.Is(err, settings.ErrInvalid),
		errors.Is(err, auth.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, feedback.ErrNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, reports.ErrNotFound),
		errors.Is(err, reports.ErrNoExport):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrConflict),
		errors.Is(err, auth.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

// uuidParam parses the named route parameter. Malformed ids are reported as
// not found.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusNotFound, errors.New("not found"))
		return uuid.Nil, false
	}
	return id, true
}

// pageFrom reads page, perPage, sort, order and q from the query string.
func pageFrom(r *http.Request) db.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("perPage"))
	return db.Page{
		Number: number,
		Size:   size,
		Sort:   q.Get("sort"),
		Desc:   strings.EqualFold(q.Get("order"), "desc"),
		Search: q.Get("q"),
	}.Normalize()
}

func boolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
