package reports_test

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxfeedback/services/feedback"
	"rxfeedback/services/reports"
)

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func sampleRecords() []feedback.Record {
	done := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
	return []feedback.Record{
		{
			ID:              uuid.New(),
			DeviceID:        "k1",
			Status:          feedback.StatusCompleted,
			PharmacyRating:  intPtr(5),
			EmployeeRatings: []feedback.EmployeeRating{{EmployeeID: "e1", Rating: 5}, {EmployeeID: "e2", Rating: 3}},
			ClientData:      &feedback.ClientData{FirstName: "Ana", Email: "ana@example.com", Consent: true},
			Suggestion:      strPtr("more parking"),
			StartedAt:       done.Add(-5 * time.Minute),
			CompletedAt:     &done,
		},
		{
			ID:              uuid.New(),
			DeviceID:        "k1",
			Status:          feedback.StatusCompleted,
			PharmacyRating:  intPtr(4),
			EmployeeRatings: []feedback.EmployeeRating{{EmployeeID: "e1", Rating: 4}},
			ClientData:      &feedback.ClientData{FirstName: "Private", Email: "p@example.com"},
			Suggestion:      strPtr("   "),
			StartedAt:       done.Add(-time.Minute),
			CompletedAt:     &done,
		},
		{
			ID:              uuid.New(),
			DeviceID:        "k2",
			Status:          feedback.StatusProcessed,
			EmployeeRatings: []feedback.EmployeeRating{},
			StartedAt:       done,
			CompletedAt:     &done,
		},
	}
}

func TestPeriods(t *testing.T) {
	p := reports.MonthOf(time.Date(2026, 3, 15, 23, 0, 0, 0, time.FixedZone("x", -5*3600)))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), p.End)

	prev := reports.MonthOf(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)).Previous()
	assert.Equal(t, "2025-12", prev.String())

	parsed, err := reports.ParseMonth("2026-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), parsed.End)

	_, err = reports.ParseMonth("February")
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	period := reports.MonthOf(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	s := reports.Summarize(period, sampleRecords(), map[string]string{"e1": "Ana Petrova"})

	assert.Equal(t, 3, s.Sessions)
	assert.Equal(t, 2, s.RatedSessions)
	assert.Equal(t, 4.5, s.AvgPharmacyRating)
	assert.Equal(t, [5]int{0, 0, 0, 1, 1}, s.Histogram)
	assert.Equal(t, 1, s.Suggestions)
	assert.Equal(t, 1, s.ConsentedClients)

	require.Len(t, s.Employees, 2)
	assert.Equal(t, reports.EmployeeStat{EmployeeID: "e1", Label: "Ana Petrova", Ratings: 2, Average: 4.5}, s.Employees[0])
	assert.Equal(t, reports.EmployeeStat{EmployeeID: "e2", Label: "e2", Ratings: 1, Average: 3}, s.Employees[1])
}

func TestSummarizeEmpty(t *testing.T) {
	s := reports.Summarize(reports.Period{}, nil, nil)
	assert.Zero(t, s.Sessions)
	assert.Zero(t, s.AvgPharmacyRating)
	assert.NotNil(t, s.Employees)
}

func TestWriteCSVHidesContactsWithoutConsent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reports.WriteCSV(&buf, sampleRecords(), map[string]string{"e1": "Ana Petrova"}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	// header + 2 rows for the first record + 1 + 1
	require.Len(t, rows, 5)
	assert.Equal(t, "session_id", rows[0][0])

	assert.Equal(t, "e1", rows[1][6])
	assert.Equal(t, "Ana Petrova", rows[1][7])
	assert.Equal(t, "ana@example.com", rows[1][13])
	assert.Equal(t, "e2", rows[2][6])

	assert.Equal(t, "", rows[3][13], "contact details without consent are omitted")
	assert.Equal(t, "", rows[4][5], "missing pharmacy rating is blank")
	assert.Equal(t, "", rows[4][6])
}

func TestArchiveRoundTrip(t *testing.T) {
	records := sampleRecords()
	summary := reports.Summarize(reports.Period{}, records, nil)

	data, err := reports.BuildArchive(summary, "hello", records, nil, time.Now())
	require.NoError(t, err)

	files, err := reports.ReadArchive(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(files["summary.txt"]))
	assert.Contains(t, string(files["summary.json"]), `"sessions": 3`)
	assert.Contains(t, string(files["sessions.csv"]), "more parking")
}
