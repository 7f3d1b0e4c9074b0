package syncapi

import (
	"github.com/google/uuid"

	"rxfeedback/services/feedback"
)

// Operation names accepted in the "operation" field.
type Operation string

const (
	OpCreateSession   Operation = "create-session"
	OpPharmacyRating  Operation = "pharmacy-rating"
	OpEmployeeRatings Operation = "employee-ratings"
	OpClientData      Operation = "client-data"
	OpSuggestion      Operation = "suggestion"
	OpComplete        Operation = "complete"
)

// Request is one parsed sync call. The concrete types below are the only
// implementations.
type Request interface {
	Operation() Operation
	sealed()
}

// CreateSession starts a record with the first screen's ratings.
type CreateSession struct {
	DeviceID                 string
	InactivityTimeoutMinutes int
	PharmacyRating           int
	EmployeeRatings          []feedback.EmployeeRating
}

type PharmacyRating struct {
	SessionID uuid.UUID
	Rating    int
}

type EmployeeRatings struct {
	SessionID uuid.UUID
	Ratings   []feedback.EmployeeRating
}

type ClientData struct {
	SessionID uuid.UUID
	Data      feedback.ClientData
}

// Suggestion with empty Text records that the step was skipped.
type Suggestion struct {
	SessionID uuid.UUID
	Text      string
}

type Complete struct {
	SessionID uuid.UUID
}

func (CreateSession) Operation() Operation   { return OpCreateSession }
func (PharmacyRating) Operation() Operation  { return OpPharmacyRating }
func (EmployeeRatings) Operation() Operation { return OpEmployeeRatings }
func (ClientData) Operation() Operation      { return OpClientData }
func (Suggestion) Operation() Operation      { return OpSuggestion }
func (Complete) Operation() Operation        { return OpComplete }

func (CreateSession) sealed()   {}
func (PharmacyRating) sealed()  {}
func (EmployeeRatings) sealed() {}
func (ClientData) sealed()      {}
func (Suggestion) sealed()      {}
func (Complete) sealed()        {}

// sessionOf returns the target record id of every request except CreateSession.
func sessionOf(req Request) (uuid.UUID, bool) {
	switch r := req.(type) {
	case PharmacyRating:
		return r.SessionID, true
	case EmployeeRatings:
		return r.SessionID, true
	case ClientData:
		return r.SessionID, true
	case Suggestion:
		return r.SessionID, true
	case Complete:
		return r.SessionID, true
	default:
		return uuid.Nil, false
	}
}
