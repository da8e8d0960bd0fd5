package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Scheduler runs named jobs at fixed intervals.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(logger zerolog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    logger.With().Str("component", "maintenance").Logger(),
	}, nil
}

// Every registers fn to run every interval. A job never overlaps itself.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			start := time.Now()
			if err := fn(ctx); err != nil {
				s.logger.Error().Err(err).Str("job", name).Msg("maintenance job failed")
				return
			}
			s.logger.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("maintenance job done")
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.logger.Info().Str("job", name).Dur("interval", interval).Msg("maintenance job registered")
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() { s.scheduler.Start() }

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error { return s.scheduler.Shutdown() }

// Jobs returns the names of registered jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name())
	}
	return out
}
