package reports

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"rxfeedback/services/feedback"
)

// Period is the half-open interval [Start, End) a report covers.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthOf returns the calendar month containing t, in UTC.
func MonthOf(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// ParseMonth parses YYYY-MM.
func ParseMonth(s string) (Period, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Period{}, fmt.Errorf("month must look like 2026-01: %w", err)
	}
	return MonthOf(t), nil
}

// Previous is the month before p.
func (p Period) Previous() Period {
	return MonthOf(p.Start.AddDate(0, 0, -1))
}

func (p Period) String() string {
	return p.Start.Format("2006-01")
}

// EmployeeStat aggregates the ratings one employee received.
type EmployeeStat struct {
	EmployeeID string  `json:"employeeId"`
	Label      string  `json:"label"`
	Ratings    int     `json:"ratings"`
	Average    float64 `json:"average"`
}

// Summary aggregates the completed sessions of a period.
type Summary struct {
	PeriodStart       time.Time      `json:"periodStart"`
	PeriodEnd         time.Time      `json:"periodEnd"`
	Sessions          int            `json:"sessions"`
	RatedSessions     int            `json:"ratedSessions"`
	AvgPharmacyRating float64        `json:"avgPharmacyRating"`
	Histogram         [5]int         `json:"histogram"`
	Employees         []EmployeeStat `json:"employees"`
	Suggestions       int            `json:"suggestions"`
	ConsentedClients  int            `json:"consentedClients"`
}

// Summarize aggregates records. names maps employee ids to display labels;
// ids without a name are labelled with the id itself.
func Summarize(period Period, records []feedback.Record, names map[string]string) Summary {
	s := Summary{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Sessions:    len(records),
		Employees:   []EmployeeStat{},
	}

	var ratingSum int
	type acc struct{ n, sum int }
	perEmployee := map[string]*acc{}

	for _, rec := range records {
		if rec.PharmacyRating != nil {
			r := *rec.PharmacyRating
			ratingSum += r
			s.RatedSessions++
			if r >= feedback.MinRating && r <= feedback.MaxRating {
				s.Histogram[r-1]++
			}
		}
		for _, er := range rec.EmployeeRatings {
			a, ok := perEmployee[er.EmployeeID]
			if !ok {
				a = &acc{}
				perEmployee[er.EmployeeID] = a
			}
			a.n++
			a.sum += er.Rating
		}
		if rec.Suggestion != nil && strings.TrimSpace(*rec.Suggestion) != "" {
			s.Suggestions++
		}
		if rec.ClientData != nil && rec.ClientData.Consent {
			s.ConsentedClients++
		}
	}

	if s.RatedSessions > 0 {
		s.AvgPharmacyRating = round2(float64(ratingSum) / float64(s.RatedSessions))
	}
	for id, a := range perEmployee {
		label := names[id]
		if label == "" {
			label = id
		}
		s.Employees = append(s.Employees, EmployeeStat{
			EmployeeID: id,
			Label:      label,
			Ratings:    a.n,
			Average:    round2(float64(a.sum) / float64(a.n)),
		})
	}
	sort.Slice(s.Employees, func(i, j int) bool {
		a, b := s.Employees[i], s.Employees[j]
		if a.Average != b.Average {
			return a.Average > b.Average
		}
		if a.Ratings != b.Ratings {
			return a.Ratings > b.Ratings
		}
		return a.Label < b.Label
	})
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
