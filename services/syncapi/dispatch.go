package syncapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rxfeedback/services/feedback"
)

// Lifecycle is the subset of the session manager the endpoint drives.
type Lifecycle interface {
	InitializeSession(ctx context.Context, deviceID string, timeoutMinutes int) (feedback.Record, error)
	Get(ctx context.Context, id uuid.UUID) (feedback.Record, error)
	UpdatePharmacyRating(ctx context.Context, id uuid.UUID, rating int) error
	UpdateEmployeeRatings(ctx context.Context, id uuid.UUID, ratings []feedback.EmployeeRating) error
	UpdateClientData(ctx context.Context, id uuid.UUID, data feedback.ClientData) error
	UpdateSuggestion(ctx context.Context, id uuid.UUID, text string) error
	UpdateSessionActivity(ctx context.Context, id uuid.UUID) error
	CompleteSession(ctx context.Context, id uuid.UUID) (feedback.Record, error)
	DiscardSession(ctx context.Context, id uuid.UUID) error
}

// TimeoutSource supplies the inactivity timeout for sessions created without one.
type TimeoutSource interface {
	InactivityTimeout(ctx context.Context) (int, error)
}

// Result is the tagged response body of every sync call.
type Result struct {
	Success bool             `json:"success"`
	Data    *feedback.Record `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Dispatcher routes parsed requests to the lifecycle manager.
type Dispatcher struct {
	sessions Lifecycle
	timeouts TimeoutSource
	log      zerolog.Logger
}

func NewDispatcher(sessions Lifecycle, timeouts TimeoutSource, logger zerolog.Logger) (*Dispatcher, error) {
	if sessions == nil {
		return nil, errors.New("lifecycle manager is required")
	}
	return &Dispatcher{
		sessions: sessions,
		timeouts: timeouts,
		log:      logger.With().Str("component", "sync").Logger(),
	}, nil
}

// Dispatch executes req and returns the record as stored afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (feedback.Record, error) {
	if id, ok := sessionOf(req); ok {
		d.touch(ctx, id)
	}

	switch r := req.(type) {
	case CreateSession:
		return d.createSession(ctx, r)
	case PharmacyRating:
		return d.then(ctx, r.SessionID, d.sessions.UpdatePharmacyRating(ctx, r.SessionID, r.Rating))
	case EmployeeRatings:
		return d.then(ctx, r.SessionID, d.sessions.UpdateEmployeeRatings(ctx, r.SessionID, r.Ratings))
	case ClientData:
		return d.then(ctx, r.SessionID, d.sessions.UpdateClientData(ctx, r.SessionID, r.Data))
	case Suggestion:
		return d.then(ctx, r.SessionID, d.sessions.UpdateSuggestion(ctx, r.SessionID, r.Text))
	case Complete:
		return d.sessions.CompleteSession(ctx, r.SessionID)
	default:
		return feedback.Record{}, &feedback.ValidationError{Field: "operation", Reason: fmt.Sprintf("unsupported operation %T", req)}
	}
}

// createSession validates both ratings before any write and deletes the new
// record when a later write in the same request fails.
func (d *Dispatcher) createSession(ctx context.Context, r CreateSession) (feedback.Record, error) {
	if err := feedback.ValidateRating("pharmacyRating", r.PharmacyRating); err != nil {
		return feedback.Record{}, err
	}
	var ratings []feedback.EmployeeRating
	if len(r.EmployeeRatings) > 0 {
		normalized, err := feedback.NormalizeEmployeeRatings(r.EmployeeRatings)
		if err != nil {
			return feedback.Record{}, err
		}
		ratings = normalized
	}

	timeout := r.InactivityTimeoutMinutes
	if timeout <= 0 && d.timeouts != nil {
		t, err := d.timeouts.InactivityTimeout(ctx)
		if err != nil {
			d.log.Warn().Err(err).Msg("load inactivity timeout, using default")
		} else {
			timeout = t
		}
	}

	rec, err := d.sessions.InitializeSession(ctx, r.DeviceID, timeout)
	if err != nil {
		return feedback.Record{}, err
	}

	err = d.sessions.UpdatePharmacyRating(ctx, rec.ID, r.PharmacyRating)
	if err == nil && ratings != nil {
		err = d.sessions.UpdateEmployeeRatings(ctx, rec.ID, ratings)
	}
	if err != nil {
		if derr := d.sessions.DiscardSession(ctx, rec.ID); derr != nil {
			d.log.Error().Err(derr).Str("session_id", rec.ID.String()).Msg("discard partially created session")
		}
		return feedback.Record{}, err
	}
	return d.sessions.Get(ctx, rec.ID)
}

func (d *Dispatcher) then(ctx context.Context, id uuid.UUID, err error) (feedback.Record, error) {
	if err != nil {
		return feedback.Record{}, err
	}
	return d.sessions.Get(ctx, id)
}

// touch is best effort; the primary operation reports its own failures.
func (d *Dispatcher) touch(ctx context.Context, id uuid.UUID) {
	err := d.sessions.UpdateSessionActivity(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, feedback.ErrNotFound):
		d.log.Debug().Str("session_id", id.String()).Msg("touch unknown session")
	default:
		d.log.Warn().Err(err).Str("session_id", id.String()).Msg("touch session")
	}
}

// Respond converts a dispatch outcome into the tagged body and its HTTP status.
func Respond(rec feedback.Record, err error) (int, Result) {
	if err == nil {
		return http.StatusOK, Result{Success: true, Data: &rec}
	}
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		return status, Result{Success: false, Error: feedback.ErrStorage.Error()}
	}
	return status, Result{Success: false, Error: err.Error()}
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, feedback.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, feedback.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
