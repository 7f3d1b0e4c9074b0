package syncapi_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxfeedback/services/feedback"
	"rxfeedback/services/syncapi"
)

func TestParseJSONCreateSession(t *testing.T) {
	req, err := syncapi.ParseJSON([]byte(`{
		"operation": "create-session",
		"deviceId": "kiosk-7",
		"pharmacyRating": 4,
		"inactivityTimeoutMinutes": "3",
		"employeeRatings": [{"employeeId": "e1", "rating": 5, "comment": "kind"}]
	}`))
	require.NoError(t, err)

	create, ok := req.(syncapi.CreateSession)
	require.True(t, ok)
	assert.Equal(t, syncapi.OpCreateSession, create.Operation())
	assert.Equal(t, "kiosk-7", create.DeviceID)
	assert.Equal(t, 4, create.PharmacyRating)
	assert.Equal(t, 3, create.InactivityTimeoutMinutes)
	require.Len(t, create.EmployeeRatings, 1)
	assert.Equal(t, "e1", create.EmployeeRatings[0].EmployeeID)
}

func TestParseJSONOperations(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name string
		body string
		want syncapi.Request
	}{
		{
			name: "pharmacy rating alias",
			body: `{"operation":"pharmacy-rating","sessionId":"` + id.String() + `","rating":2}`,
			want: syncapi.PharmacyRating{SessionID: id, Rating: 2},
		},
		{
			name: "employee ratings as embedded string",
			body: `{"operation":"employee-ratings","sessionId":"` + id.String() + `","employeeRatings":"[{\"employeeId\":\"e2\",\"rating\":3}]"}`,
			want: syncapi.EmployeeRatings{SessionID: id, Ratings: []feedback.EmployeeRating{{EmployeeID: "e2", Rating: 3}}},
		},
		{
			name: "nested client data",
			body: `{"operation":"client-data","sessionId":"` + id.String() + `","clientData":{"firstName":"Ana","email":"a@b.c","consent":"on"}}`,
			want: syncapi.ClientData{SessionID: id, Data: feedback.ClientData{FirstName: "Ana", Email: "a@b.c", Consent: true}},
		},
		{
			name: "flat client data",
			body: `{"operation":"client-data","sessionId":"` + id.String() + `","phone":"555","consent":false}`,
			want: syncapi.ClientData{SessionID: id, Data: feedback.ClientData{Phone: "555"}},
		},
		{
			name: "skipped suggestion",
			body: `{"operation":"suggestion","sessionId":"` + id.String() + `","suggestion":""}`,
			want: syncapi.Suggestion{SessionID: id, Text: ""},
		},
		{
			name: "complete",
			body: `{"operation":"complete","sessionId":"` + id.String() + `"}`,
			want: syncapi.Complete{SessionID: id},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := syncapi.ParseJSON([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	id := uuid.NewString()
	cases := map[string]string{
		"empty body":         ``,
		"not json":           `{`,
		"missing operation":  `{"sessionId":"` + id + `"}`,
		"unknown operation":  `{"operation":"delete-everything","sessionId":"` + id + `"}`,
		"missing session id": `{"operation":"complete"}`,
		"bad session id":     `{"operation":"complete","sessionId":"abc"}`,
		"missing rating":     `{"operation":"create-session"}`,
		"fractional rating":  `{"operation":"pharmacy-rating","sessionId":"` + id + `","pharmacyRating":4.5}`,
		"ratings not a list": `{"operation":"employee-ratings","sessionId":"` + id + `","employeeRatings":{"a":1}}`,
		"missing ratings":    `{"operation":"employee-ratings","sessionId":"` + id + `"}`,
		"missing suggestion": `{"operation":"suggestion","sessionId":"` + id + `"}`,
		"empty ratings list": `{"operation":"create-session","pharmacyRating":4,"employeeRatings":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := syncapi.ParseJSON([]byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, feedback.ErrValidation)
		})
	}
}

func TestParseForm(t *testing.T) {
	id := uuid.New()
	form := url.Values{
		"operation":      {"client-data"},
		"sessionId":      {id.String()},
		"firstName":      {"Boris"},
		"lastName":       {"Ilyin"},
		"consent":        {"on"},
		"unrelatedField": {"x"},
	}
	r := httptest.NewRequest(http.MethodPost, "/api/feedback/sync", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	got, err := syncapi.Parse(r)
	require.NoError(t, err)
	assert.Equal(t, syncapi.ClientData{
		SessionID: id,
		Data:      feedback.ClientData{FirstName: "Boris", LastName: "Ilyin", Consent: true},
	}, got)
}

func TestParseFormCreateSession(t *testing.T) {
	form := url.Values{
		"operation":       {"create-session"},
		"pharmacyRating":  {"5"},
		"employeeRatings": {`[{"employeeId":"e9","rating":4}]`},
	}
	r := httptest.NewRequest(http.MethodPost, "/api/feedback/sync", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	got, err := syncapi.Parse(r)
	require.NoError(t, err)
	create, ok := got.(syncapi.CreateSession)
	require.True(t, ok)
	assert.Equal(t, 5, create.PharmacyRating)
	assert.Equal(t, []feedback.EmployeeRating{{EmployeeID: "e9", Rating: 4}}, create.EmployeeRatings)

	form.Set("pharmacyRating", "five")
	r = httptest.NewRequest(http.MethodPost, "/api/feedback/sync", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = syncapi.Parse(r)
	require.ErrorIs(t, err, feedback.ErrValidation)
}

func TestParseFormSuggestionPresence(t *testing.T) {
	id := uuid.New()
	form := url.Values{"operation": {"suggestion"}, "sessionId": {id.String()}, "suggestion": {""}}
	r := httptest.NewRequest(http.MethodPost, "/api/feedback/sync", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	got, err := syncapi.Parse(r)
	require.NoError(t, err)
	assert.Equal(t, syncapi.Suggestion{SessionID: id}, got)
}
