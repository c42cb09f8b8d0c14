// Package scheduler implements Fern's durable job scheduler: a
// poll loop that claims due jobs, dispatches them through the reasoning
// loop, and advances one-shot and recurring jobs to their next state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/fern/internal/agent"
	"github.com/nextlevelbuilder/fern/internal/sessions"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// Config holds the scheduler's tuning knobs.
type Config struct {
	PollInterval  time.Duration // POLL_INTERVAL_MS, default 60s
	MaxConcurrent int           // maxConcurrentJobs, default 3
	BatchLimit    int           // jobs claimed per tick
	DefaultTZ     string        // SCHEDULER_DEFAULT_TZ, "Local" resolves to time.Local
	DispatchRate  rate.Limit    // outbound-call rate limit alongside the hard concurrency cap
}

// DefaultConfig returns the scheduler's documented defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 60 * time.Second, MaxConcurrent: 3, BatchLimit: 20, DefaultTZ: "Local", DispatchRate: rate.Limit(2)}
}

// Scheduler runs the background poll loop.
type Scheduler struct {
	store *store.Store
	loop  *agent.Loop
	cfg   Config

	limiter *rate.Limiter
	sem     chan struct{}
	logger  *slog.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Scheduler. Call Start to run its poll loop and Stop to
// drain in-flight dispatches before returning.
func New(st *store.Store, loop *agent.Loop, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	return &Scheduler{
		store: st, loop: loop, cfg: cfg,
		limiter: rate.NewLimiter(cfg.DispatchRate, cfg.MaxConcurrent),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Schedule inserts a new job and returns its id.
func (s *Scheduler) Schedule(ctx context.Context, jobType store.JobType, prompt string, scheduledAt time.Time, cronExpr string, metadata map[string]string) (string, error) {
	now := time.Now()
	j := store.Job{
		ID: ulid.Make().String(), Type: jobType, Status: store.JobPending,
		Prompt: prompt, ScheduledAt: scheduledAt, CronExpr: cronExpr,
		CreatedAt: now, UpdatedAt: now, Metadata: metadata,
	}
	if err := s.store.InsertJob(ctx, j); err != nil {
		return "", fmt.Errorf("schedule job: %w", err)
	}
	return j.ID, nil
}

// Cancel marks a job cancelled: terminal for one-shots, stops future runs
// of a recurring job.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	return s.store.CancelJob(ctx, jobID, time.Now())
}

// Start recovers stale "running" rows left over from a previous process
// and begins the poll loop.
func (s *Scheduler) Start(ctx context.Context) error {
	n, err := s.store.RecoverStaleJobs(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.Info("recovered stale jobs on start", "count", n)
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)
	return nil
}

// Stop signals the poll loop to exit and waits for in-flight dispatches
// to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueJobs(ctx, time.Now(), s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("due jobs query failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, job := range due {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(j store.Job) {
			defer wg.Done()
			defer func() { <-s.sem }()
			s.dispatch(ctx, j)
		}(job)
	}
	wg.Wait()
}

// dispatch claims then executes one due job.
func (s *Scheduler) dispatch(ctx context.Context, job store.Job) {
	claimed, err := s.store.ClaimJob(ctx, job.ID, time.Now())
	if err != nil {
		s.logger.Error("claim job failed", "job_id", job.ID, "error", err)
		return
	}
	if !claimed {
		return // another worker (or process) already claimed it
	}

	threadID := sessions.CronThreadID(job.ID)
	response, runErr := s.loop.Execute(ctx, threadID, "scheduled job "+job.ID, job.Prompt)
	now := time.Now()

	if runErr != nil {
		if err := s.store.FailJob(ctx, job.ID, runErr.Error(), now); err != nil {
			s.logger.Error("mark job failed write failed", "job_id", job.ID, "error", err)
		}
		return
	}

	switch job.Type {
	case store.JobOneShot:
		if err := s.store.CompleteOneShot(ctx, job.ID, response, now); err != nil {
			s.logger.Error("complete one-shot write failed", "job_id", job.ID, "error", err)
		}
	case store.JobRecurring:
		next, err := s.nextFire(job, now)
		if err != nil {
			if err := s.store.FailJob(ctx, job.ID, fmt.Sprintf("compute next fire: %v", err), now); err != nil {
				s.logger.Error("fail recurring job write failed", "job_id", job.ID, "error", err)
			}
			return
		}
		if err := s.store.RescheduleRecurring(ctx, job.ID, response, next, now); err != nil {
			s.logger.Error("reschedule recurring write failed", "job_id", job.ID, "error", err)
		}
	}
}

// nextFire computes a recurring job's next scheduled time from its cron
// expression in the resolved timezone.
func (s *Scheduler) nextFire(job store.Job, now time.Time) (time.Time, error) {
	loc := s.resolveLocation(job)
	return gronx.NextTickAfter(job.CronExpr, now.In(loc), false)
}

// resolveLocation implements the timezone precedence: the
// job's own metadata.timezone, else the scheduler's configured default,
// else UTC.
func (s *Scheduler) resolveLocation(job store.Job) *time.Location {
	if tz := job.Metadata["timezone"]; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if s.cfg.DefaultTZ != "" {
		if loc, err := time.LoadLocation(s.cfg.DefaultTZ); err == nil {
			return loc
		}
	}
	return time.UTC
}
