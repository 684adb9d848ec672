// Package scheduler runs the periodic jobs: news collection, price polling,
// cache sweeping, and position monitoring. At most one instance of a job runs
// at a time; a tick that lands while the previous run is still going is
// skipped, not queued.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs with minute resolution.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	grace   time.Duration
	started atomic.Bool

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. Jobs started after stop wait up to grace before
// being abandoned.
func New(grace time.Duration, log zerolog.Logger) *Scheduler {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		log:     log.With().Str("component", "scheduler").Logger(),
		grace:   grace,
		running: make(map[string]bool),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// AddJob registers a job on a cron schedule ("30 6 * * *", "@every 1m",
// "@hourly").
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runJob(job)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// Start begins dispatching. Idempotent.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop halts dispatch and waits for in-flight jobs up to the grace period.
func (s *Scheduler) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("scheduler stopped")
	case <-time.After(s.grace):
		s.cancel()
		s.log.Warn().Dur("grace", s.grace).Msg("scheduler stopped with jobs still running")
	}
}

// RunNow executes a job immediately, subject to the same single-instance
// rule.
func (s *Scheduler) RunNow(job Job) {
	s.runJob(job)
}

func (s *Scheduler) runJob(job Job) {
	s.mu.Lock()
	if s.running[job.Name()] {
		s.mu.Unlock()
		s.log.Debug().Str("job", job.Name()).Msg("previous run still active, skipping")
		return
	}
	s.running[job.Name()] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name())
		s.mu.Unlock()
		s.wg.Done()
	}()

	start := time.Now()
	if err := job.Run(s.baseCtx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Dur("took", time.Since(start)).Msg("job completed")
}
