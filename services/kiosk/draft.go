package kiosk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"rxfeedback/services/feedback"
)

// Step is a screen of the kiosk flow.
type Step string

const (
	StepPharmacy   Step = "pharmacy"
	StepEmployees  Step = "employees"
	StepClient     Step = "client"
	StepSuggestion Step = "suggestion"
	StepThankYou   Step = "thank-you"
)

// Draft is the local mirror of the session in progress. Record only ever
// holds what the server last confirmed.
type Draft struct {
	Record    feedback.Record `json:"record"`
	Step      Step            `json:"step"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Started reports whether the server has created a record for this draft.
func (d Draft) Started() bool { return d.Record.ID != uuid.Nil }

// Reconcile replaces the mirrored record with the server-confirmed one.
func (d *Draft) Reconcile(rec feedback.Record, at time.Time) {
	d.Record = rec
	d.UpdatedAt = at
}

// DraftStore persists the draft between page loads.
type DraftStore interface {
	Load() (Draft, bool, error)
	Save(Draft) error
	Clear() error
}

// FileDrafts keeps the draft in a JSON file.
type FileDrafts struct {
	path string
	mu   sync.Mutex
}

func NewFileDrafts(path string) (*FileDrafts, error) {
	if path == "" {
		return nil, errors.New("draft path is required")
	}
	return &FileDrafts{path: path}, nil
}

func (f *FileDrafts) Load() (Draft, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("read draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return Draft{}, false, fmt.Errorf("parse draft: %w", err)
	}
	return d, true, nil
}

func (f *FileDrafts) Save(d Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeJSON(f.path, d); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (f *FileDrafts) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// MemoryDrafts keeps the draft in process memory.
type MemoryDrafts struct {
	mu    sync.Mutex
	draft *Draft
}

func (m *MemoryDrafts) Load() (Draft, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return Draft{}, false, nil
	}
	return *m.draft, true, nil
}

func (m *MemoryDrafts) Save(d Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = &d
	return nil
}

func (m *MemoryDrafts) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = nil
	return nil
}
