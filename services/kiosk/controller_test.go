package kiosk_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxfeedback/services/feedback"
	"rxfeedback/services/kiosk"
	"rxfeedback/services/settings"
	"rxfeedback/services/syncapi"
)

// fakeAPI applies requests to an in-memory record.
type fakeAPI struct {
	mu        sync.Mutex
	cfg       settings.Public
	rec       feedback.Record
	requests  []syncapi.Operation
	completes chan struct{}
	release   chan struct{}
	missing   bool
}

func newFakeAPI(cfg settings.Public) *fakeAPI {
	return &fakeAPI{cfg: cfg, completes: make(chan struct{}, 4)}
}

func (f *fakeAPI) Sync(ctx context.Context, req syncapi.Request) (feedback.Record, error) {
	if _, ok := req.(syncapi.Complete); ok && f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return feedback.Record{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.Operation())
	switch r := req.(type) {
	case syncapi.CreateSession:
		if r.PharmacyRating < 1 || r.PharmacyRating > 5 {
			return feedback.Record{}, &kiosk.Error{Status: 400, Message: "pharmacyRating: out of range"}
		}
		rating := r.PharmacyRating
		f.rec = feedback.Record{
			ID:                       uuid.New(),
			DeviceID:                 r.DeviceID,
			PharmacyRating:           &rating,
			Status:                   feedback.StatusActive,
			LastActiveAt:             time.Now(),
			InactivityTimeoutMinutes: r.InactivityTimeoutMinutes,
		}
	case syncapi.PharmacyRating:
		rating := r.Rating
		f.rec.PharmacyRating = &rating
	case syncapi.EmployeeRatings:
		f.rec.EmployeeRatings = r.Ratings
	case syncapi.ClientData:
		data := r.Data
		f.rec.ClientData = &data
	case syncapi.Suggestion:
		text := r.Text
		f.rec.Suggestion = &text
	case syncapi.Complete:
		f.rec.Status = feedback.StatusCompleted
		f.completes <- struct{}{}
	}
	return f.rec, nil
}

func (f *fakeAPI) Session(context.Context, uuid.UUID) (feedback.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing {
		return feedback.Record{}, &kiosk.Error{Status: 404, Message: "not found"}
	}
	return f.rec, nil
}

func (f *fakeAPI) Config(context.Context) (settings.Public, error) { return f.cfg, nil }

func (f *fakeAPI) ops() []syncapi.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncapi.Operation(nil), f.requests...)
}

func newController(t *testing.T, api kiosk.API, drafts kiosk.DraftStore, backup time.Duration) *kiosk.Controller {
	t.Helper()
	c, err := kiosk.NewController(api, kiosk.ControllerConfig{
		Identity:      kiosk.DeviceIdentity{ID: "kiosk-test"},
		Drafts:        drafts,
		BackupTimeout: backup,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestControllerWalksEnabledPages(t *testing.T) {
	cfg := settings.Defaults().Public()
	cfg.ThankYouEnabled = false
	api := newFakeAPI(cfg)
	drafts := &kiosk.MemoryDrafts{}
	c := newController(t, api, drafts, time.Second)
	ctx := context.Background()

	step, err := c.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepPharmacy, step)

	step, err = c.SubmitPharmacy(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepEmployees, step)
	assert.Equal(t, "kiosk-test", c.Draft().Record.DeviceID)

	step, err = c.SubmitEmployees(ctx, []feedback.EmployeeRating{{EmployeeID: "e1", Rating: 4}})
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepClient, step)

	step, err = c.Skip(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepSuggestion, step)

	saved, ok, err := drafts.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, kiosk.StepSuggestion, saved.Step)
	assert.Len(t, saved.Record.EmployeeRatings, 1)

	step, err = c.Skip(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepPharmacy, step)
	c.Wait()

	assert.Equal(t, []syncapi.Operation{
		syncapi.OpCreateSession, syncapi.OpEmployeeRatings, syncapi.OpSuggestion, syncapi.OpComplete,
	}, api.ops())
	_, ok, err = drafts.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestControllerSkipsDisabledPages(t *testing.T) {
	cfg := settings.Defaults().Public()
	cfg.EmployeePageEnabled = false
	cfg.ClientPageEnabled = false
	api := newFakeAPI(cfg)
	c := newController(t, api, nil, time.Second)
	ctx := context.Background()
	_, err := c.Resume(ctx)
	require.NoError(t, err)

	step, err := c.SubmitPharmacy(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepSuggestion, step)

	step, err = c.SubmitSuggestion(ctx, "more seating")
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepThankYou, step)
	assert.NotContains(t, api.ops(), syncapi.OpComplete)

	step, err = c.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepPharmacy, step)
	c.Wait()
	assert.Contains(t, api.ops(), syncapi.OpComplete)
}

func TestControllerResubmitUpdatesRating(t *testing.T) {
	api := newFakeAPI(settings.Defaults().Public())
	c := newController(t, api, nil, time.Second)
	ctx := context.Background()

	_, err := c.SubmitPharmacy(ctx, 2)
	require.NoError(t, err)
	_, err = c.SubmitPharmacy(ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, []syncapi.Operation{syncapi.OpCreateSession, syncapi.OpPharmacyRating}, api.ops())
	assert.Equal(t, 5, *c.Draft().Record.PharmacyRating)
}

func TestControllerKeepsStepOnError(t *testing.T) {
	api := newFakeAPI(settings.Defaults().Public())
	c := newController(t, api, nil, time.Second)

	step, err := c.SubmitPharmacy(context.Background(), 0)
	require.ErrorIs(t, err, feedback.ErrValidation)
	assert.Equal(t, kiosk.StepPharmacy, step)
	assert.False(t, c.Draft().Started())

	_, err = c.SubmitEmployees(context.Background(), nil)
	require.ErrorIs(t, err, kiosk.ErrNoSession)
}

func TestBackupTimeoutForcesNavigation(t *testing.T) {
	cfg := settings.Defaults().Public()
	cfg.ThankYouEnabled = false
	api := newFakeAPI(cfg)
	api.release = make(chan struct{})
	c := newController(t, api, nil, 20*time.Millisecond)
	ctx := context.Background()
	_, err := c.Resume(ctx)
	require.NoError(t, err)

	_, err = c.SubmitPharmacy(ctx, 4)
	require.NoError(t, err)

	start := time.Now()
	step, err := c.MakeWhereToGoDecision(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepPharmacy, step)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, c.Draft().Started())

	close(api.release)
	select {
	case <-api.completes:
	case <-time.After(2 * time.Second):
		t.Fatal("completion never reached the server")
	}
	c.Wait()
}

func TestResumeReconcilesDraft(t *testing.T) {
	api := newFakeAPI(settings.Defaults().Public())
	drafts, err := kiosk.NewFileDrafts(filepath.Join(t.TempDir(), "draft.json"))
	require.NoError(t, err)
	ctx := context.Background()

	first := newController(t, api, drafts, time.Second)
	_, err = first.SubmitPharmacy(ctx, 4)
	require.NoError(t, err)

	// The server moved on since the draft was written.
	api.mu.Lock()
	api.rec.Suggestion = new(string)
	api.mu.Unlock()

	second := newController(t, api, drafts, time.Second)
	step, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepEmployees, step)
	assert.NotNil(t, second.Draft().Record.Suggestion)

	api.mu.Lock()
	api.missing = true
	api.mu.Unlock()
	third := newController(t, api, drafts, time.Second)
	step, err = third.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.StepPharmacy, step)
	_, ok, err := drafts.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInactivity(t *testing.T) {
	cfg := settings.Defaults().Public()
	cfg.KioskMode = true
	cfg.InactivityTimeoutMinutes = 3
	api := newFakeAPI(cfg)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c, err := kiosk.NewController(api, kiosk.ControllerConfig{
		Identity: kiosk.DeviceIdentity{ID: "kiosk-test"},
		Logger:   zerolog.Nop(),
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.Resume(ctx)
	require.NoError(t, err)
	_, err = c.SubmitPharmacy(ctx, 5)
	require.NoError(t, err)

	assert.False(t, c.Inactive(now.Add(3*time.Minute)))
	assert.True(t, c.Inactive(now.Add(3*time.Minute+time.Second)))

	reset, err := c.ResetIfInactive(now.Add(10 * time.Minute))
	require.NoError(t, err)
	assert.True(t, reset)
	assert.False(t, c.Draft().Started())
	assert.NotContains(t, api.ops(), syncapi.OpComplete)

	api.cfg.KioskMode = false
	_, err = c.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, c.Inactive(now.Add(time.Hour)))
}

func TestLoadIdentityIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "identity.json")
	first, err := kiosk.LoadIdentity(path, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := kiosk.LoadIdentity(path, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
