package feedback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	SessionCompletedSubject = "feedback.sessions.completed"

	defaultSweepBatch = 500
)

// EmployeeValidator reports which of the given employee ids are unknown.
type EmployeeValidator interface {
	UnknownEmployees(ctx context.Context, ids []string) ([]string, error)
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// ManagerConfig holds optional collaborators for the Manager.
type ManagerConfig struct {
	Employees             EmployeeValidator
	Events                Publisher
	Logger                zerolog.Logger
	Clock                 func() time.Time
	DefaultTimeoutMinutes int
}

// Manager is the only writer of session records. It enforces rating ranges,
// field merge rules and the forward-only status machine.
type Manager struct {
	repo      Repository
	employees EmployeeValidator
	events    Publisher
	log       zerolog.Logger
	clock     func() time.Time
	timeout   int
}

// NewManager wires a Manager around repo.
func NewManager(repo Repository, cfg ManagerConfig) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DefaultTimeoutMinutes <= 0 {
		cfg.DefaultTimeoutMinutes = DefaultTimeoutMinutes
	}
	return &Manager{
		repo:      repo,
		employees: cfg.Employees,
		events:    cfg.Events,
		log:       cfg.Logger.With().Str("component", "feedback").Logger(),
		clock:     cfg.Clock,
		timeout:   cfg.DefaultTimeoutMinutes,
	}, nil
}

// Postgres keeps microseconds; truncating keeps stored and returned values equal.
func (m *Manager) now() time.Time {
	return m.clock().UTC().Truncate(time.Microsecond)
}

// InitializeSession creates an active record for deviceID. An empty device id
// is replaced with a generated one.
func (m *Manager) InitializeSession(ctx context.Context, deviceID string, timeoutMinutes int) (Record, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = "device-" + uuid.NewString()
	}
	if timeoutMinutes <= 0 {
		timeoutMinutes = m.timeout
	}

	now := m.now()
	rec := Record{
		ID:                       uuid.New(),
		DeviceID:                 deviceID,
		EmployeeRatings:          []EmployeeRating{},
		Status:                   StatusActive,
		StartedAt:                now,
		LastActiveAt:             now,
		InactivityTimeoutMinutes: timeoutMinutes,
	}
	if err := m.repo.Create(ctx, rec); err != nil {
		return Record{}, storageErr("create session", err)
	}
	sessionsCreated.Inc()
	m.log.Debug().Str("session_id", rec.ID.String()).Str("device_id", deviceID).Msg("session initialized")
	return rec, nil
}

// Get returns the record for id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		return Record{}, storageErr("get session", err)
	}
	return rec, nil
}

// UpdatePharmacyRating overwrites the pharmacy score.
func (m *Manager) UpdatePharmacyRating(ctx context.Context, id uuid.UUID, rating int) error {
	if err := ValidateRating("pharmacyRating", rating); err != nil {
		validationFailures.WithLabelValues("pharmacy-rating").Inc()
		return err
	}
	return m.update(ctx, "update pharmacy rating", id, map[string]any{"pharmacy_rating": rating})
}

// UpdateEmployeeRatings replaces the whole employee ratings list.
func (m *Manager) UpdateEmployeeRatings(ctx context.Context, id uuid.UUID, ratings []EmployeeRating) error {
	normalized, err := NormalizeEmployeeRatings(ratings)
	if err != nil {
		validationFailures.WithLabelValues("employee-ratings").Inc()
		return err
	}
	if err := m.checkEmployees(ctx, normalized); err != nil {
		return err
	}
	return m.update(ctx, "update employee ratings", id, map[string]any{
		"employee_ratings": datatypesRatings(normalized),
	})
}

// UpdateClientData stores the optional contact details as submitted. Unset
// fields are stored as empty strings and consent as false.
func (m *Manager) UpdateClientData(ctx context.Context, id uuid.UUID, data ClientData) error {
	return m.update(ctx, "update client data", id, map[string]any{
		"has_client_data": true,
		"client_consent":  data.Consent,
		"client_data":     datatypesClient(data),
	})
}

// UpdateSuggestion stores text verbatim; an empty string marks the step as skipped.
func (m *Manager) UpdateSuggestion(ctx context.Context, id uuid.UUID, text string) error {
	return m.update(ctx, "update suggestion", id, map[string]any{"suggestion": text})
}

// UpdateSessionActivity touches lastActiveAt.
func (m *Manager) UpdateSessionActivity(ctx context.Context, id uuid.UUID) error {
	return m.update(ctx, "touch session", id, map[string]any{})
}

// CompleteSession marks the record completed. Completing a record that is
// already completed or processed changes nothing and keeps its completedAt.
func (m *Manager) CompleteSession(ctx context.Context, id uuid.UUID) (Record, error) {
	now := m.now()
	transitioned, err := m.repo.Complete(ctx, id, now)
	if err != nil {
		return Record{}, storageErr("complete session", err)
	}

	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		return Record{}, storageErr("complete session", err)
	}
	if !transitioned {
		return rec, nil
	}

	sessionsCompleted.Inc()
	m.publish(ctx, SessionCompletedSubject, completedEvent(rec))
	return rec, nil
}

// DiscardSession deletes a record, used to roll back a create that failed half way.
func (m *Manager) DiscardSession(ctx context.Context, id uuid.UUID) error {
	return storageErr("discard session", m.repo.Delete(ctx, id))
}

// MarkProcessed moves completed records to processed.
func (m *Manager) MarkProcessed(ctx context.Context, ids []uuid.UUID) (int64, error) {
	n, err := m.repo.MarkProcessed(ctx, ids)
	if err != nil {
		return 0, storageErr("mark processed", err)
	}
	return n, nil
}

// SweepStale flags stale active records as abandoned and returns how many were
// flagged. Individual row failures are logged and skipped.
func (m *Manager) SweepStale(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	now := m.now()

	// Timeouts are at least one minute, so anything touched within the last
	// minute cannot be stale.
	candidates, err := m.repo.StaleCandidates(ctx, now.Add(-time.Minute), batch)
	if err != nil {
		return 0, storageErr("list stale sessions", err)
	}

	flagged := 0
	for _, rec := range candidates {
		if !IsStale(rec, now) {
			continue
		}
		ok, err := m.repo.Abandon(ctx, rec.ID, rec.LastActiveAt)
		if err != nil {
			m.log.Warn().Err(err).Str("session_id", rec.ID.String()).Msg("abandon session")
			continue
		}
		if ok {
			flagged++
		}
	}
	sessionsAbandoned.Add(float64(flagged))
	return flagged, nil
}

func (m *Manager) update(ctx context.Context, op string, id uuid.UUID, fields map[string]any) error {
	fields["last_active_at"] = m.now()
	fields["status"] = gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", string(StatusAbandoned), string(StatusActive))
	return storageErr(op, m.repo.Update(ctx, id, fields))
}

func (m *Manager) checkEmployees(ctx context.Context, ratings []EmployeeRating) error {
	if m.employees == nil {
		return nil
	}
	ids := make([]string, 0, len(ratings))
	for _, r := range ratings {
		ids = append(ids, r.EmployeeID)
	}
	unknown, err := m.employees.UnknownEmployees(ctx, ids)
	if err != nil {
		return storageErr("validate employees", err)
	}
	if len(unknown) > 0 {
		validationFailures.WithLabelValues("employee-ratings").Inc()
		return invalid("employeeRatings", "unknown employee "+strings.Join(unknown, ", "))
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, subject string, payload any) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, subject, payload); err != nil {
		m.log.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}

func completedEvent(rec Record) map[string]any {
	return map[string]any{
		"session_id":       rec.ID,
		"device_id":        rec.DeviceID,
		"pharmacy_rating":  rec.PharmacyRating,
		"employee_ratings": len(rec.EmployeeRatings),
		"completed_at":     rec.CompletedAt,
	}
}
