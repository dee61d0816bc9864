// Package cron runs registered background jobs on 6-field cron schedules
// (seconds resolution) and persists each run's outcome to scheduled_jobs.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/loomhq/loom/internal/persistence"
)

// cronParser parses 6-field expressions: second, minute, hour, dom, month, dow.
var cronParser = cronlib.NewParser(
	cronlib.Second | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// JobResult is the outcome of one job run.
type JobResult struct {
	Success        bool
	Message        string
	ItemsProcessed int
	ItemsFailed    int
	DurationMs     int64
}

// JobContext carries the shared handles a job executes against.
type JobContext struct {
	Store  *persistence.Store
	Logger *slog.Logger
}

// Job is one schedulable unit of background work. Jobs are registered at
// startup; the collection is static for the process lifetime.
type Job interface {
	Name() string
	Description() string
	Schedule() string
	Execute(ctx context.Context, jc JobContext) JobResult
}

// Config holds the dependencies for the scheduler.
type Config struct {
	Store    *persistence.Store
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 second if zero
}

// Scheduler fires registered jobs when their schedules come due.
type Scheduler struct {
	store    *persistence.Store
	logger   *slog.Logger
	interval time.Duration

	mu    sync.Mutex
	jobs  []Job
	plans map[string]cronlib.Schedule
	next  map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		logger:   logger,
		interval: interval,
		plans:    make(map[string]cronlib.Schedule),
		next:     make(map[string]time.Time),
	}
}

// Register adds a job. An unparseable schedule is rejected here rather
// than discovered at fire time.
func (s *Scheduler) Register(job Job) error {
	plan, err := cronParser.Parse(job.Schedule())
	if err != nil {
		return fmt.Errorf("job %q schedule %q: %w", job.Name(), job.Schedule(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.plans[job.Name()] = plan
	s.next[job.Name()] = plan.Next(time.Now())
	return nil
}

// Start upserts the scheduled_jobs rows and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		if err := s.store.UpsertScheduledJob(ctx, job.Name(), job.Schedule(), true); err != nil {
			return fmt.Errorf("register job %q: %w", job.Name(), err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "jobs", len(jobs), "interval", s.interval)
	return nil
}

// Stop cancels the loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []Job
	for _, job := range s.jobs {
		if !now.Before(s.next[job.Name()]) {
			due = append(due, job)
			s.next[job.Name()] = s.plans[job.Name()].Next(now)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.runJob(ctx, job, now)
	}
}

// RunNow executes one registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job Job
	for _, j := range s.jobs {
		if j.Name() == name {
			job = j
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("job %q not registered", name)
	}
	s.runJob(ctx, job, time.Now())
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) {
	log := s.logger.With("job", job.Name())
	log.Info("job started")

	started := time.Now()
	res := job.Execute(ctx, JobContext{Store: s.store, Logger: log})
	if res.DurationMs == 0 {
		res.DurationMs = time.Since(started).Milliseconds()
	}

	status := "success"
	lastError := ""
	if !res.Success {
		status = "failed"
		lastError = res.Message
	}

	s.mu.Lock()
	nextRun := s.plans[job.Name()].Next(now)
	s.mu.Unlock()

	if err := s.store.RecordJobRun(ctx, job.Name(), status, lastError, nextRun); err != nil {
		log.Error("failed to record job run", "error", err)
	}

	log.Info("job finished",
		"status", status,
		"processed", res.ItemsProcessed,
		"failed", res.ItemsFailed,
		"duration_ms", res.DurationMs,
		"next_run", nextRun,
	)
}
