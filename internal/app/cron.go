package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Scheduler registers the staleness sweep and the monthly report on a UTC cron.
// The returned cron has not been started.
func (a *App) Scheduler(ctx context.Context, sweepSpec, reportSpec string) (*cron.Cron, error) {
	logger := cronLogger{log: a.log.With().Str("component", "cron").Logger()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	if _, err := a.Sweeper.Schedule(ctx, c, sweepSpec); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", sweepSpec, err)
	}
	if _, err := a.Reports.Schedule(ctx, c, reportSpec); err != nil {
		return nil, fmt.Errorf("schedule reports %q: %w", reportSpec, err)
	}
	return c, nil
}
