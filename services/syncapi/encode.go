package syncapi

import (
	"encoding/json"
	"fmt"

	"rxfeedback/services/feedback"
)

// wireRequest is the JSON shape clients send. Fields an operation does not use
// are omitted.
type wireRequest struct {
	Operation                Operation                 `json:"operation"`
	SessionID                string                    `json:"sessionId,omitempty"`
	DeviceID                 string                    `json:"deviceId,omitempty"`
	InactivityTimeoutMinutes int                       `json:"inactivityTimeoutMinutes,omitempty"`
	PharmacyRating           int                       `json:"pharmacyRating,omitempty"`
	EmployeeRatings          []feedback.EmployeeRating `json:"employeeRatings,omitempty"`
	ClientData               *feedback.ClientData      `json:"clientData,omitempty"`
	Suggestion               *string                   `json:"suggestion,omitempty"`
}

// Encode renders req as the JSON body accepted by Parse.
func Encode(req Request) ([]byte, error) {
	w := wireRequest{Operation: req.Operation()}
	switch r := req.(type) {
	case CreateSession:
		w.DeviceID = r.DeviceID
		w.InactivityTimeoutMinutes = r.InactivityTimeoutMinutes
		w.PharmacyRating = r.PharmacyRating
		w.EmployeeRatings = r.EmployeeRatings
	case PharmacyRating:
		w.SessionID = r.SessionID.String()
		w.PharmacyRating = r.Rating
	case EmployeeRatings:
		w.SessionID = r.SessionID.String()
		w.EmployeeRatings = r.Ratings
	case ClientData:
		w.SessionID = r.SessionID.String()
		data := r.Data
		w.ClientData = &data
	case Suggestion:
		w.SessionID = r.SessionID.String()
		text := r.Text
		w.Suggestion = &text
	case Complete:
		w.SessionID = r.SessionID.String()
	default:
		return nil, fmt.Errorf("encode: unsupported request %T", req)
	}
	return json.Marshal(w)
}
