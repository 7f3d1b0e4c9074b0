package syncapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"rxfeedback/services/feedback"
)

const maxBodyBytes = 64 << 10

// flexInt accepts a JSON number or a numeric string.
type flexInt struct {
	set   bool
	value int
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("not an integer: %s", n)
	}
	f.set, f.value = true, v
	return nil
}

// flexBool accepts true/false or the strings a checkbox submits.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*f = flexBool(truthy(s))
	return nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

// flexRatings accepts a JSON array or a string holding one, as sent by forms.
type flexRatings struct {
	set   bool
	items []feedback.EmployeeRating
}

func (f *flexRatings) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		b = []byte(s)
	}
	var items []feedback.EmployeeRating
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	f.set, f.items = true, items
	return nil
}

type wireClient struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Consent   flexBool `json:"consent"`
}

func (c wireClient) toDomain() feedback.ClientData {
	return feedback.ClientData{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Consent:   bool(c.Consent),
	}
}

// wirePayload is the union of every field any operation reads.
type wirePayload struct {
	Operation                string      `json:"operation"`
	SessionID                string      `json:"sessionId"`
	DeviceID                 string      `json:"deviceId"`
	InactivityTimeoutMinutes flexInt     `json:"inactivityTimeoutMinutes"`
	PharmacyRating           flexInt     `json:"pharmacyRating"`
	Rating                   flexInt     `json:"rating"`
	EmployeeRatings          flexRatings `json:"employeeRatings"`
	ClientData               *wireClient `json:"clientData"`
	Suggestion               *string     `json:"suggestion"`

	wireClient
}

// Parse reads a sync request from a JSON or form encoded body. Malformed input
// is reported as a *feedback.ValidationError.
func Parse(r *http.Request) (Request, error) {
	var (
		p   wirePayload
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		p, err = decodeForm(r)
	default:
		p, err = decodeJSON(io.LimitReader(r.Body, maxBodyBytes))
	}
	if err != nil {
		return nil, err
	}
	return build(p)
}

// ParseJSON reads a sync request from a JSON document.
func ParseJSON(body []byte) (Request, error) {
	p, err := decodeJSON(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return build(p)
}

func decodeJSON(body io.Reader) (wirePayload, error) {
	var p wirePayload
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, malformed("", "request body is empty")
		}
		return p, malformed("", "invalid JSON: "+err.Error())
	}
	return p, nil
}

func decodeForm(r *http.Request) (wirePayload, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return wirePayload{}, malformed("", "invalid form: "+err.Error())
	}
	return formPayload(r.Form)
}

func formPayload(form url.Values) (wirePayload, error) {
	p := wirePayload{
		Operation: form.Get("operation"),
		SessionID: form.Get("sessionId"),
		DeviceID:  form.Get("deviceId"),
		wireClient: wireClient{
			FirstName: form.Get("firstName"),
			LastName:  form.Get("lastName"),
			Email:     form.Get("email"),
			Phone:     form.Get("phone"),
			Consent:   flexBool(truthy(form.Get("consent"))),
		},
	}
	for key, dst := range map[string]*flexInt{
		"inactivityTimeoutMinutes": &p.InactivityTimeoutMinutes,
		"pharmacyRating":           &p.PharmacyRating,
		"rating":                   &p.Rating,
	} {
		raw := strings.TrimSpace(form.Get(key))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return p, malformed(key, "must be an integer")
		}
		*dst = flexInt{set: true, value: v}
	}
	if raw := form.Get("employeeRatings"); strings.TrimSpace(raw) != "" {
		quoted, _ := json.Marshal(raw)
		if err := p.EmployeeRatings.UnmarshalJSON(quoted); err != nil {
			return p, malformed("employeeRatings", "must be a JSON list")
		}
	}
	if raw := form.Get("clientData"); strings.TrimSpace(raw) != "" {
		var c wireClient
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return p, malformed("clientData", "must be a JSON object")
		}
		p.ClientData = &c
	}
	if _, ok := form["suggestion"]; ok {
		s := form.Get("suggestion")
		p.Suggestion = &s
	}
	return p, nil
}

func build(p wirePayload) (Request, error) {
	op := Operation(strings.TrimSpace(p.Operation))
	if op == "" {
		return nil, malformed("operation", "is required")
	}

	if op == OpCreateSession {
		rating, ok := p.rating()
		if !ok {
			return nil, malformed("pharmacyRating", "is required")
		}
		// An absent list leaves employee ratings to the employees screen; an
		// explicit empty one is rejected like employee-ratings.
		if p.EmployeeRatings.set && len(p.EmployeeRatings.items) == 0 {
			return nil, malformed("employeeRatings", "at least one rating is required")
		}
		return CreateSession{
			DeviceID:                 strings.TrimSpace(p.DeviceID),
			InactivityTimeoutMinutes: p.InactivityTimeoutMinutes.value,
			PharmacyRating:           rating,
			EmployeeRatings:          p.EmployeeRatings.items,
		}, nil
	}

	switch op {
	case OpPharmacyRating, OpEmployeeRatings, OpClientData, OpSuggestion, OpComplete:
	default:
		return nil, malformed("operation", fmt.Sprintf("unknown operation %q", op))
	}

	raw := strings.TrimSpace(p.SessionID)
	if raw == "" {
		return nil, malformed("sessionId", "is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, malformed("sessionId", "is not a valid id")
	}

	switch op {
	case OpPharmacyRating:
		rating, ok := p.rating()
		if !ok {
			return nil, malformed("pharmacyRating", "is required")
		}
		return PharmacyRating{SessionID: id, Rating: rating}, nil
	case OpEmployeeRatings:
		if !p.EmployeeRatings.set {
			return nil, malformed("employeeRatings", "is required")
		}
		return EmployeeRatings{SessionID: id, Ratings: p.EmployeeRatings.items}, nil
	case OpClientData:
		client := p.wireClient
		if p.ClientData != nil {
			client = *p.ClientData
		}
		return ClientData{SessionID: id, Data: client.toDomain()}, nil
	case OpSuggestion:
		if p.Suggestion == nil {
			return nil, malformed("suggestion", "is required")
		}
		return Suggestion{SessionID: id, Text: *p.Suggestion}, nil
	default:
		return Complete{SessionID: id}, nil
	}
}

func (p wirePayload) rating() (int, bool) {
	if p.PharmacyRating.set {
		return p.PharmacyRating.value, true
	}
	if p.Rating.set {
		return p.Rating.value, true
	}
	return 0, false
}

func malformed(field, reason string) error {
	return &feedback.ValidationError{Field: field, Reason: reason}
}
