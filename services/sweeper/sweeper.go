package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule sweeps once an hour.
const DefaultSchedule = "@hourly"

// Target flags stale sessions and reports how many changed.
type Target interface {
	SweepStale(ctx context.Context, batch int) (int, error)
}

// Sweeper runs the staleness sweep in batches until a batch comes back short.
type Sweeper struct {
	target  Target
	batch   int
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
}

type Options struct {
	Batch   int
	Timeout time.Duration
	Logger  zerolog.Logger
}

func New(target Target, opts Options) (*Sweeper, error) {
	if target == nil {
		return nil, errors.New("sweep target is required")
	}
	if opts.Batch <= 0 {
		opts.Batch = 500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Sweeper{
		target:  target,
		batch:   opts.Batch,
		timeout: opts.Timeout,
		log:     opts.Logger.With().Str("component", "sweeper").Logger(),
	}, nil
}

// Run sweeps until no full batch remains and returns the total flagged.
// Overlapping calls return immediately with zero.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	total := 0
	for {
		n, err := s.target.SweepStale(ctx, s.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batch {
			return total, nil
		}
	}
}

// Schedule registers Run on c.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	return c.AddFunc(spec, func() {
		n, err := s.Run(ctx)
		if err != nil {
			s.log.Error().Err(err).Int("abandoned", n).Msg("sweep failed")
			return
		}
		s.log.Info().Int("abandoned", n).Msg("sweep finished")
	})
}
