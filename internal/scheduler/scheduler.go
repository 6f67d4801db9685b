// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultJobTimeout = 90 * time.Second

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

// New builds a scheduler with six-field (seconds-first) cron specs. A run
// still in progress when its next tick fires is skipped.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log.With().Str("component", "scheduler").Logger(),
		timeout: defaultJobTimeout,
	}
}

// AddJob registers job on schedule, e.g. "0 */5 * * * *" or "@every 30s".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.execute(ctx, job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("job registered")
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn().Msg("scheduler already running")
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("manual run triggered")
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	start := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("running job")

	err := job.Run(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Dur("took", time.Since(start)).Msg("job failed")
		return err
	}
	s.log.Debug().Str("job", job.Name()).Dur("took", time.Since(start)).Msg("job completed")
	return nil
}
