// Package worker runs the enforcement sweeps on fixed intervals.
package worker

import (
	"context"
	"sync"
	"time"

	"salvage-settlement/internal/core/ports"

	"github.com/rs/zerolog"
)

// Job is one sweep and how often it runs. A non-positive interval disables it.
type Job struct {
	Name     string
	Interval time.Duration
}

// Scheduler ticks each job in its own goroutine. Runs of the same job never
// overlap; a slow run delays the next tick instead of stacking.
type Scheduler struct {
	runner     ports.EnforcementService
	jobs       []Job
	runOnStart bool
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewScheduler creates a scheduler. With runOnStart each job runs once
// immediately instead of waiting for its first tick.
func NewScheduler(runner ports.EnforcementService, jobs []Job, runOnStart bool, log zerolog.Logger) *Scheduler {
	return &Scheduler{runner: runner, jobs: jobs, runOnStart: runOnStart, log: log}
}

// Start launches the job loops. They stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.log.Info().Str("job", job.Name).Msg("sweep disabled")
			continue
		}
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
		s.log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("sweep scheduled")
	}
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if s.runOnStart {
		s.run(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("job", job.Name).Msg("sweep panicked")
		}
	}()

	report, err := s.runner.RunJob(ctx, job.Name)
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Msg("sweep failed to start")
		return
	}
	if report.Failed > 0 {
		s.log.Warn().Str("job", job.Name).Int("failed", report.Failed).Msg("sweep finished with failures")
	}
}
