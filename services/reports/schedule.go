package reports

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs at 06:00 UTC on the first day of every month.
const DefaultSchedule = "0 6 1 * *"

// Schedule registers a job that builds the report for the month before each run.
func (s *Service) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	return c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		period := MonthOf(s.cfg.Clock()).Previous()
		if _, err := s.Build(runCtx, period); err != nil {
			s.log.Error().Err(err).Str("period", period.String()).Msg("scheduled report failed")
		}
	})
}
