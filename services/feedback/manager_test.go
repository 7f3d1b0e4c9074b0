package feedback_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rxfeedback/services/feedback"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingPublisher struct {
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, feedback.Migrate(context.Background(), database))
	return database
}

func setupManager(t *testing.T) (*feedback.Manager, *fakeClock, *recordingPublisher) {
	t.Helper()
	store, err := feedback.NewStore(openDB(t))
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	events := &recordingPublisher{}
	mgr, err := feedback.NewManager(store, feedback.ManagerConfig{
		Events: events,
		Logger: zerolog.Nop(),
		Clock:  clock.Now,
	})
	require.NoError(t, err)
	return mgr, clock, events
}

func TestInitializeSession(t *testing.T) {
	mgr, clock, _ := setupManager(t)
	ctx := context.Background()

	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 5)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusActive, rec.Status)
	assert.Equal(t, "kiosk-1", rec.DeviceID)
	assert.Equal(t, clock.Now(), rec.StartedAt)
	assert.Equal(t, rec.StartedAt, rec.LastActiveAt)
	assert.Nil(t, rec.CompletedAt)

	stored, err := mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.InactivityTimeoutMinutes)
	assert.NotNil(t, stored.EmployeeRatings)
	assert.Empty(t, stored.EmployeeRatings)
}

func TestInitializeSessionDefaults(t *testing.T) {
	mgr, _, _ := setupManager(t)

	rec, err := mgr.InitializeSession(context.Background(), "  ", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.DeviceID)
	assert.Equal(t, feedback.DefaultTimeoutMinutes, rec.InactivityTimeoutMinutes)
}

func TestUpdatePharmacyRatingRange(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	for rating := -1; rating <= 7; rating++ {
		err := mgr.UpdatePharmacyRating(ctx, rec.ID, rating)
		if rating >= 1 && rating <= 5 {
			assert.NoError(t, err, "rating %d", rating)
			continue
		}
		var verr *feedback.ValidationError
		assert.ErrorAs(t, err, &verr, "rating %d", rating)
	}
}

func TestPharmacyRatingLastWriteWins(t *testing.T) {
	mgr, clock, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	require.NoError(t, mgr.UpdatePharmacyRating(ctx, rec.ID, 3))
	clock.Advance(time.Second)
	require.NoError(t, mgr.UpdatePharmacyRating(ctx, rec.ID, 5))

	stored, err := mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PharmacyRating)
	assert.Equal(t, 5, *stored.PharmacyRating)
	assert.True(t, clock.Now().Equal(stored.LastActiveAt))
}

func TestUpdateEmployeeRatings(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateEmployeeRatings(ctx, rec.ID, []feedback.EmployeeRating{
		{EmployeeID: "e-1", Rating: 5, Comment: " great "},
		{EmployeeID: "e-2", Rating: 2},
	}))

	stored, err := mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []feedback.EmployeeRating{
		{EmployeeID: "e-1", Rating: 5, Comment: " great "},
		{EmployeeID: "e-2", Rating: 2, Comment: ""},
	}, stored.EmployeeRatings)

	// Replaces rather than merges by employee id.
	require.NoError(t, mgr.UpdateEmployeeRatings(ctx, rec.ID, []feedback.EmployeeRating{
		{EmployeeID: "e-3", Rating: 4},
	}))
	stored, err = mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []feedback.EmployeeRating{{EmployeeID: "e-3", Rating: 4, Comment: ""}}, stored.EmployeeRatings)
}

func TestUpdateEmployeeRatingsRejected(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)
	original := []feedback.EmployeeRating{{EmployeeID: "e-1", Rating: 4, Comment: "ok"}}
	require.NoError(t, mgr.UpdateEmployeeRatings(ctx, rec.ID, original))

	tests := []struct {
		name    string
		ratings []feedback.EmployeeRating
	}{
		{name: "empty list", ratings: []feedback.EmployeeRating{}},
		{name: "nil list", ratings: nil},
		{name: "rating too low", ratings: []feedback.EmployeeRating{{EmployeeID: "e-1", Rating: 0}}},
		{name: "rating too high", ratings: []feedback.EmployeeRating{{EmployeeID: "e-1", Rating: 5}, {EmployeeID: "e-2", Rating: 6}}},
		{name: "missing employee", ratings: []feedback.EmployeeRating{{Rating: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mgr.UpdateEmployeeRatings(ctx, rec.ID, tt.ratings)
			require.ErrorIs(t, err, feedback.ErrValidation)

			stored, err := mgr.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, original, stored.EmployeeRatings)
		})
	}
}

type staticValidator struct{ known map[string]bool }

func (v staticValidator) UnknownEmployees(_ context.Context, ids []string) ([]string, error) {
	var unknown []string
	for _, id := range ids {
		if !v.known[id] {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

func TestUpdateEmployeeRatingsUnknownEmployee(t *testing.T) {
	store, err := feedback.NewStore(openDB(t))
	require.NoError(t, err)
	mgr, err := feedback.NewManager(store, feedback.ManagerConfig{
		Employees: staticValidator{known: map[string]bool{"e-1": true}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateEmployeeRatings(ctx, rec.ID, []feedback.EmployeeRating{{EmployeeID: "e-1", Rating: 5}}))
	err = mgr.UpdateEmployeeRatings(ctx, rec.ID, []feedback.EmployeeRating{{EmployeeID: "e-9", Rating: 5}})
	assert.ErrorIs(t, err, feedback.ErrValidation)
}

func TestUpdateClientData(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateClientData(ctx, rec.ID, feedback.ClientData{FirstName: " Ana ", Email: "Ana@Example.com"}))

	stored, err := mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClientData)
	assert.Equal(t, feedback.ClientData{FirstName: " Ana ", Email: "Ana@Example.com"}, *stored.ClientData)

	require.NoError(t, mgr.UpdateClientData(ctx, rec.ID, feedback.ClientData{}))
	stored, err = mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClientData)
	assert.Equal(t, feedback.ClientData{FirstName: "", LastName: "", Email: "", Phone: "", Consent: false}, *stored.ClientData)
}

func TestUpdateSuggestionEmptyIsStored(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	stored, err := mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Suggestion)

	require.NoError(t, mgr.UpdateSuggestion(ctx, rec.ID, ""))
	stored, err = mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Suggestion)
	assert.Equal(t, "", *stored.Suggestion)
}

func TestStepsPreserveOtherFields(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	// Out of flow order on purpose.
	require.NoError(t, mgr.UpdateSuggestion(ctx, rec.ID, "longer hours"))
	require.NoError(t, mgr.UpdatePharmacyRating(ctx, rec.ID, 4))
	require.NoError(t, mgr.UpdateEmployeeRatings(ctx, rec.ID, []feedback.EmployeeRating{{EmployeeID: "e-1", Rating: 5}}))
	require.NoError(t, mgr.UpdateClientData(ctx, rec.ID, feedback.ClientData{Phone: "555", Consent: true}))

	stored, err := mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, *stored.PharmacyRating)
	assert.Equal(t, "longer hours", *stored.Suggestion)
	assert.Len(t, stored.EmployeeRatings, 1)
	assert.True(t, stored.ClientData.Consent)
}

func TestMutationsOnUnknownSession(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	id := uuid.New()

	assert.ErrorIs(t, mgr.UpdatePharmacyRating(ctx, id, 3), feedback.ErrNotFound)
	assert.ErrorIs(t, mgr.UpdateEmployeeRatings(ctx, id, []feedback.EmployeeRating{{EmployeeID: "e", Rating: 3}}), feedback.ErrNotFound)
	assert.ErrorIs(t, mgr.UpdateClientData(ctx, id, feedback.ClientData{}), feedback.ErrNotFound)
	assert.ErrorIs(t, mgr.UpdateSuggestion(ctx, id, "x"), feedback.ErrNotFound)
	assert.ErrorIs(t, mgr.UpdateSessionActivity(ctx, id), feedback.ErrNotFound)

	_, err := mgr.CompleteSession(ctx, id)
	var nf *feedback.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, id, nf.ID)
}

func TestCompleteSessionIsIdempotent(t *testing.T) {
	mgr, clock, events := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	first, err := mgr.CompleteSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusCompleted, first.Status)
	require.NotNil(t, first.CompletedAt)
	assert.True(t, clock.Now().Equal(*first.CompletedAt))

	clock.Advance(time.Minute)
	second, err := mgr.CompleteSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusCompleted, second.Status)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))
	assert.Equal(t, []string{feedback.SessionCompletedSubject}, events.subjects)
}

func TestCompletedStatusNeverRegresses(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()
	rec, err := mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.NoError(t, err)
	_, err = mgr.CompleteSession(ctx, rec.ID)
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateSuggestion(ctx, rec.ID, "late note"))
	stored, err := mgr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusCompleted, stored.Status)

	n, err := mgr.MarkProcessed(ctx, []uuid.UUID{rec.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	again, err := mgr.CompleteSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusProcessed, again.Status)
	assert.NotNil(t, again.CompletedAt)
}

func TestSweepStale(t *testing.T) {
	mgr, clock, _ := setupManager(t)
	ctx := context.Background()

	kiosk, err := mgr.InitializeSession(ctx, "kiosk-1", 3)
	require.NoError(t, err)
	long, err := mgr.InitializeSession(ctx, "kiosk-2", 60)
	require.NoError(t, err)
	done, err := mgr.InitializeSession(ctx, "kiosk-3", 3)
	require.NoError(t, err)
	_, err = mgr.CompleteSession(ctx, done.ID)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	flagged, err := mgr.SweepStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	got, err := mgr.Get(ctx, kiosk.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusAbandoned, got.Status)

	got, err = mgr.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusActive, got.Status)

	// A late step revives the swept record.
	require.NoError(t, mgr.UpdateSuggestion(ctx, kiosk.ID, "back"))
	got, err = mgr.Get(ctx, kiosk.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.StatusActive, got.Status)
}

func TestIsStaleBoundary(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := feedback.Record{Status: feedback.StatusActive, LastActiveAt: start, InactivityTimeoutMinutes: 3}

	assert.False(t, feedback.IsStale(rec, start.Add(3*time.Minute-time.Nanosecond)))
	assert.False(t, feedback.IsStale(rec, start.Add(3*time.Minute)))
	assert.True(t, feedback.IsStale(rec, start.Add(3*time.Minute+time.Nanosecond)))

	assert.Equal(t, feedback.StatusActive, feedback.EffectiveStatus(rec, start.Add(time.Minute)))
	assert.Equal(t, feedback.StatusAbandoned, feedback.EffectiveStatus(rec, start.Add(time.Hour)))

	rec.Status = feedback.StatusCompleted
	assert.Equal(t, feedback.StatusCompleted, feedback.EffectiveStatus(rec, start.Add(time.Hour)))
}

type failingRepo struct {
	feedback.Repository
	err error
}

func (f failingRepo) Create(context.Context, feedback.Record) error { return f.err }

func (f failingRepo) Update(context.Context, uuid.UUID, map[string]any) error { return f.err }

func TestStorageErrorsAreWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	mgr, err := feedback.NewManager(failingRepo{err: cause}, feedback.ManagerConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = mgr.InitializeSession(ctx, "kiosk-1", 0)
	require.ErrorIs(t, err, feedback.ErrStorage)
	assert.ErrorIs(t, err, cause)

	err = mgr.UpdatePharmacyRating(ctx, uuid.New(), 4)
	var serr *feedback.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "update pharmacy rating", serr.Op)
}
