package sweeper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxfeedback/services/sweeper"
)

type scriptedTarget struct {
	results []int
	err     error
	calls   int
}

func (s *scriptedTarget) SweepStale(_ context.Context, batch int) (int, error) {
	s.calls++
	if s.calls > len(s.results) {
		return 0, s.err
	}
	return s.results[s.calls-1], nil
}

func TestRunLoopsUntilShortBatch(t *testing.T) {
	target := &scriptedTarget{results: []int{10, 10, 3}}
	s, err := sweeper.New(target, sweeper.Options{Batch: 10, Logger: zerolog.Nop()})
	require.NoError(t, err)

	n, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23, n)
	assert.Equal(t, 3, target.calls)
}

func TestRunReportsError(t *testing.T) {
	target := &scriptedTarget{results: []int{5}, err: errors.New("db down")}
	s, err := sweeper.New(target, sweeper.Options{Batch: 5, Logger: zerolog.Nop()})
	require.NoError(t, err)

	n, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 5, n)
}

func TestNewRequiresTarget(t *testing.T) {
	_, err := sweeper.New(nil, sweeper.Options{})
	require.Error(t, err)
}

func TestSchedule(t *testing.T) {
	s, err := sweeper.New(&scriptedTarget{}, sweeper.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	c := cron.New()
	id, err := s.Schedule(context.Background(), c, "")
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = s.Schedule(context.Background(), c, "not a schedule")
	require.Error(t, err)
}
