package kiosk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"rxfeedback/services/feedback"
	"rxfeedback/services/settings"
	"rxfeedback/services/syncapi"
)

const (
	// DefaultBackupTimeout bounds how long the flow waits for completion
	// before it returns to the entry screen anyway.
	DefaultBackupTimeout = 2 * time.Second

	defaultCompleteTimeout = 15 * time.Second
)

// ErrNoSession is returned by steps that need a record before one exists.
var ErrNoSession = errors.New("no feedback session in progress")

type ControllerConfig struct {
	Identity      DeviceIdentity
	Drafts        DraftStore
	BackupTimeout time.Duration
	// CompleteTimeout caps the completion call that may outlive the screen change.
	CompleteTimeout time.Duration
	Logger          zerolog.Logger
	Clock           func() time.Time
}

// Controller drives one kiosk through the feedback screens. Calls are
// serialized so at most one sync request is in flight.
type Controller struct {
	api             API
	drafts          DraftStore
	identity        DeviceIdentity
	backup          time.Duration
	completeTimeout time.Duration
	log             zerolog.Logger
	clock           func() time.Time

	mu      sync.Mutex
	cfg     settings.Public
	draft   Draft
	pending sync.WaitGroup

	lastTouch atomic.Int64
}

func NewController(api API, cfg ControllerConfig) (*Controller, error) {
	if api == nil {
		return nil, errors.New("api is required")
	}
	if cfg.Identity.ID == "" {
		return nil, errors.New("device identity is required")
	}
	if cfg.Drafts == nil {
		cfg.Drafts = &MemoryDrafts{}
	}
	if cfg.BackupTimeout <= 0 {
		cfg.BackupTimeout = DefaultBackupTimeout
	}
	if cfg.CompleteTimeout <= 0 {
		cfg.CompleteTimeout = defaultCompleteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Controller{
		api:             api,
		drafts:          cfg.Drafts,
		identity:        cfg.Identity,
		backup:          cfg.BackupTimeout,
		completeTimeout: cfg.CompleteTimeout,
		log:             cfg.Logger.With().Str("component", "kiosk").Str("device_id", cfg.Identity.ID).Logger(),
		clock:           cfg.Clock,
		cfg:             settings.Defaults().Public(),
		draft:           Draft{Step: StepPharmacy},
	}
	c.Touch(c.clock())
	return c, nil
}

// Resume loads the page flags and any saved draft, reconciling it with the
// server. Drafts whose record is gone or no longer open are discarded.
func (c *Controller) Resume(ctx context.Context) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.api.Config(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("load kiosk config failed, using defaults")
	} else {
		c.cfg = cfg
	}

	draft, ok, err := c.drafts.Load()
	if err != nil {
		return c.draft.Step, err
	}
	if !ok || !draft.Started() {
		c.draft = Draft{Step: StepPharmacy}
		return c.draft.Step, nil
	}

	rec, err := c.api.Session(ctx, draft.Record.ID)
	switch {
	case errors.Is(err, feedback.ErrNotFound):
		return c.restart()
	case err != nil:
		// Keep the local copy; the next submit reconciles it.
		c.log.Warn().Err(err).Str("session_id", draft.Record.ID.String()).Msg("reconcile draft failed")
		c.draft = draft
		return c.draft.Step, nil
	}
	if feedback.EffectiveStatus(rec, c.clock()) != feedback.StatusActive {
		return c.restart()
	}

	draft.Reconcile(rec, c.clock())
	c.draft = draft
	if err := c.drafts.Save(c.draft); err != nil {
		return c.draft.Step, err
	}
	return c.draft.Step, nil
}

// Settings returns the page flags in effect.
func (c *Controller) Settings() settings.Public {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Draft returns a copy of the local draft.
func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Touch records user activity at now.
func (c *Controller) Touch(now time.Time) {
	c.lastTouch.Store(now.UnixNano())
}

// Inactive reports whether a kiosk-mode device has seen no activity for longer
// than the inactivity timeout. It is always false outside kiosk mode.
func (c *Controller) Inactive(now time.Time) bool {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	if !cfg.KioskMode || cfg.InactivityTimeoutMinutes <= 0 {
		return false
	}
	last := time.Unix(0, c.lastTouch.Load())
	return now.Sub(last) > time.Duration(cfg.InactivityTimeoutMinutes)*time.Minute
}

// ResetIfInactive returns the kiosk to the entry screen when it has been idle.
// The abandoned record is left for the server sweep.
func (c *Controller) ResetIfInactive(now time.Time) (bool, error) {
	if !c.Inactive(now) {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info().Str("session_id", c.draft.Record.ID.String()).Msg("kiosk idle, returning to start")
	_, err := c.restart()
	c.Touch(now)
	return true, err
}

// SubmitPharmacy creates the session on first submit and updates its rating
// afterwards.
func (c *Controller) SubmitPharmacy(ctx context.Context, rating int) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Touch(c.clock())

	var req syncapi.Request
	if c.draft.Started() {
		req = syncapi.PharmacyRating{SessionID: c.draft.Record.ID, Rating: rating}
	} else {
		req = syncapi.CreateSession{
			DeviceID:                 c.identity.ID,
			InactivityTimeoutMinutes: c.cfg.InactivityTimeoutMinutes,
			PharmacyRating:           rating,
		}
	}
	return c.submit(ctx, StepPharmacy, req)
}

func (c *Controller) SubmitEmployees(ctx context.Context, ratings []feedback.EmployeeRating) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Touch(c.clock())
	if !c.draft.Started() {
		return c.draft.Step, ErrNoSession
	}
	return c.submit(ctx, StepEmployees, syncapi.EmployeeRatings{SessionID: c.draft.Record.ID, Ratings: ratings})
}

func (c *Controller) SubmitClient(ctx context.Context, data feedback.ClientData) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Touch(c.clock())
	if !c.draft.Started() {
		return c.draft.Step, ErrNoSession
	}
	return c.submit(ctx, StepClient, syncapi.ClientData{SessionID: c.draft.Record.ID, Data: data})
}

// SubmitSuggestion stores text; an empty string records that the customer
// skipped the step.
func (c *Controller) SubmitSuggestion(ctx context.Context, text string) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Touch(c.clock())
	if !c.draft.Started() {
		return c.draft.Step, ErrNoSession
	}
	return c.submit(ctx, StepSuggestion, syncapi.Suggestion{SessionID: c.draft.Record.ID, Text: text})
}

// Skip leaves the current optional step without sending anything, except for
// the suggestion step which records the skip on the server.
func (c *Controller) Skip(ctx context.Context) (Step, error) {
	c.mu.Lock()
	step := c.draft.Step
	c.mu.Unlock()

	switch step {
	case StepSuggestion:
		return c.SubmitSuggestion(ctx, "")
	case StepEmployees, StepClient:
		c.mu.Lock()
		defer c.mu.Unlock()
		c.Touch(c.clock())
		if !c.draft.Started() {
			return c.draft.Step, ErrNoSession
		}
		return c.advance(ctx, step)
	default:
		return step, fmt.Errorf("step %s cannot be skipped", step)
	}
}

// MakeWhereToGoDecision picks the screen after the last question. With the
// thank-you page enabled the kiosk goes there and Finish is called from it.
// Otherwise the session is completed in the background and the kiosk
// returns to the entry screen.
func (c *Controller) MakeWhereToGoDecision(ctx context.Context) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decide(ctx)
}

// Finish completes the session from the thank-you page and returns to the
// entry screen.
func (c *Controller) Finish(ctx context.Context) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finish(ctx)
}

// Wait blocks until background completion calls have returned.
func (c *Controller) Wait() {
	c.pending.Wait()
}

func (c *Controller) submit(ctx context.Context, step Step, req syncapi.Request) (Step, error) {
	rec, err := c.api.Sync(ctx, req)
	if err != nil {
		return c.draft.Step, err
	}
	c.draft.Reconcile(rec, c.clock())
	return c.advance(ctx, step)
}

func (c *Controller) advance(ctx context.Context, from Step) (Step, error) {
	next, ok := c.nextPage(from)
	if !ok {
		return c.decide(ctx)
	}
	c.draft.Step = next
	if err := c.drafts.Save(c.draft); err != nil {
		return next, err
	}
	return next, nil
}

func (c *Controller) nextPage(from Step) (Step, bool) {
	order := []struct {
		step    Step
		enabled bool
	}{
		{StepPharmacy, true},
		{StepEmployees, c.cfg.EmployeePageEnabled},
		{StepClient, c.cfg.ClientPageEnabled},
		{StepSuggestion, c.cfg.SuggestionPageEnabled},
	}
	past := false
	for _, page := range order {
		if past && page.enabled {
			return page.step, true
		}
		if page.step == from {
			past = true
		}
	}
	return "", false
}

func (c *Controller) decide(ctx context.Context) (Step, error) {
	if !c.draft.Started() {
		return c.restart()
	}
	if c.cfg.ThankYouEnabled {
		c.draft.Step = StepThankYou
		if err := c.drafts.Save(c.draft); err != nil {
			return StepThankYou, err
		}
		return StepThankYou, nil
	}
	return c.finish(ctx)
}

// finish sends the completion and waits for it at most the backup timeout.
// The draft is cleared either way.
func (c *Controller) finish(ctx context.Context) (Step, error) {
	if !c.draft.Started() {
		return c.restart()
	}
	id := c.draft.Record.ID
	done := make(chan error, 1)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.completeTimeout)
		defer cancel()
		_, err := c.api.Sync(callCtx, syncapi.Complete{SessionID: id})
		if err != nil {
			c.log.Warn().Err(err).Str("session_id", id.String()).Msg("complete session failed")
		}
		done <- err
	}()

	timer := time.NewTimer(c.backup)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.log.Debug().Str("session_id", id.String()).Dur("after", c.backup).Msg("completion still pending, leaving screen")
	case <-ctx.Done():
	}
	return c.restart()
}

func (c *Controller) restart() (Step, error) {
	c.draft = Draft{Step: StepPharmacy}
	if err := c.drafts.Clear(); err != nil {
		return StepPharmacy, err
	}
	return StepPharmacy, nil
}
