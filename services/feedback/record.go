package feedback

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a feedback session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusProcessed Status = "processed"
)

// Terminal reports whether the status is completed or processed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusProcessed
}

const (
	MinRating = 1
	MaxRating = 5

	// DefaultTimeoutMinutes applies to sessions created without an explicit timeout.
	DefaultTimeoutMinutes = 24 * 60
)

// EmployeeRating is one customer's score for a single employee.
type EmployeeRating struct {
	EmployeeID string `json:"employeeId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

// ClientData is the optional contact information a customer may leave.
type ClientData struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Consent   bool   `json:"consent"`
}

// Record is the persisted state of one customer visit through the feedback flow.
type Record struct {
	ID                       uuid.UUID        `json:"id"`
	DeviceID                 string           `json:"deviceId"`
	PharmacyRating           *int             `json:"pharmacyRating,omitempty"`
	EmployeeRatings          []EmployeeRating `json:"employeeRatings"`
	ClientData               *ClientData      `json:"clientData,omitempty"`
	Suggestion               *string          `json:"suggestion,omitempty"`
	Status                   Status           `json:"status"`
	StartedAt                time.Time        `json:"startedAt"`
	LastActiveAt             time.Time        `json:"lastActiveAt"`
	CompletedAt              *time.Time       `json:"completedAt,omitempty"`
	InactivityTimeoutMinutes int              `json:"inactivityTimeoutMinutes"`
}

// IsStale reports whether more than the record's inactivity timeout has elapsed
// since its last activity. It never mutates the record.
func IsStale(rec Record, now time.Time) bool {
	timeout := time.Duration(rec.InactivityTimeoutMinutes) * time.Minute
	return now.Sub(rec.LastActiveAt) > timeout
}

// EffectiveStatus reports abandoned for stale active records and the stored
// status otherwise.
func EffectiveStatus(rec Record, now time.Time) Status {
	if rec.Status == StatusActive && IsStale(rec, now) {
		return StatusAbandoned
	}
	return rec.Status
}
