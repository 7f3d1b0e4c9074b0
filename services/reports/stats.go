package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rxfeedback/pkg/db"
)

type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int64  `db:"count" json:"count"`
}

type DailyRating struct {
	Day       time.Time `db:"day" json:"day"`
	Sessions  int64     `db:"sessions" json:"sessions"`
	AvgRating *float64  `db:"avg_rating" json:"avgRating"`
}

// Dashboard is the live overview shown on the admin landing page.
type Dashboard struct {
	Statuses   []StatusCount `json:"statuses"`
	Daily      []DailyRating `json:"daily"`
	Since      time.Time     `json:"since"`
	Unreported int64         `json:"unreported"`
}

const (
	statusCountsSQL = `
SELECT status, count(*) AS count
FROM feedback_sessions
GROUP BY status
ORDER BY status`

	dailyRatingsSQL = `
SELECT date_trunc('day', completed_at) AS day,
       count(*) AS sessions,
       avg(pharmacy_rating)::float8 AS avg_rating
FROM feedback_sessions
WHERE status IN ('completed', 'processed') AND completed_at >= $1
GROUP BY 1
ORDER BY 1`

	unreportedSQL = `
SELECT count(*)
FROM feedback_sessions
WHERE status = 'completed'`
)

// LoadDashboard runs the aggregate queries for the last 30 days before now.
func LoadDashboard(ctx context.Context, pool *pgxpool.Pool, now time.Time) (Dashboard, error) {
	since := now.UTC().AddDate(0, 0, -30).Truncate(24 * time.Hour)
	d := Dashboard{Since: since, Statuses: []StatusCount{}, Daily: []DailyRating{}}

	if err := db.Select(ctx, pool, &d.Statuses, statusCountsSQL); err != nil {
		return Dashboard{}, err
	}
	if err := db.Select(ctx, pool, &d.Daily, dailyRatingsSQL, since); err != nil {
		return Dashboard{}, err
	}
	if err := db.Get(ctx, pool, &d.Unreported, unreportedSQL); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}
