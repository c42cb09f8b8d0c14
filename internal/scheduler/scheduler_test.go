package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/fern/internal/agent"
	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/sessions"
	"github.com/nextlevelbuilder/fern/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestScheduler(t *testing.T, runner *llm.FakeRunner) (*Scheduler, *store.Store) {
	t.Helper()
	st := openTestStore(t)
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := agent.New(registry, runner, nil, nil, nil)
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.DispatchRate = 1000
	return New(st, loop, cfg, nil), st
}

func TestDispatch_OneShot_Completes(t *testing.T) {
	runner := llm.NewFakeRunner()
	runner.Response = "done"
	s, st := newTestScheduler(t, runner)

	id, err := s.Schedule(context.Background(), store.JobOneShot, "do the thing", time.Now().Add(-time.Minute), "", nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.dispatch(context.Background(), mustJob(t, st, id))

	job, err := st.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobCompleted {
		t.Errorf("Status = %q, want completed", job.Status)
	}
	if job.LastRunResponse != "done" {
		t.Errorf("LastRunResponse = %q, want %q", job.LastRunResponse, "done")
	}
}

func TestDispatch_Recurring_Reschedules(t *testing.T) {
	runner := llm.NewFakeRunner()
	runner.Response = "ran"
	s, st := newTestScheduler(t, runner)

	scheduledAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	id, err := s.Schedule(context.Background(), store.JobRecurring, "daily digest", scheduledAt, "0 9 * * *", map[string]string{"timezone": "UTC"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.dispatch(context.Background(), mustJob(t, st, id))

	job, err := st.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobPending {
		t.Errorf("Status = %q, want pending", job.Status)
	}
	if job.LastError != "" {
		t.Errorf("LastError = %q, want empty", job.LastError)
	}
	if !job.ScheduledAt.After(scheduledAt) {
		t.Errorf("ScheduledAt = %v, want after %v", job.ScheduledAt, scheduledAt)
	}
}

func TestDispatch_Failure_MarksFailed(t *testing.T) {
	runner := llm.NewFakeRunner()
	runner.Fail = true
	s, st := newTestScheduler(t, runner)

	id, err := s.Schedule(context.Background(), store.JobOneShot, "do the thing", time.Now().Add(-time.Minute), "", nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	s.dispatch(context.Background(), mustJob(t, st, id))

	job, err := st.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if job.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestDispatch_AlreadyClaimed_Skipped(t *testing.T) {
	runner := llm.NewFakeRunner()
	runner.Response = "done"
	s, st := newTestScheduler(t, runner)

	id, err := s.Schedule(context.Background(), store.JobOneShot, "do the thing", time.Now().Add(-time.Minute), "", nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := st.ClaimJob(context.Background(), id, time.Now()); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	s.dispatch(context.Background(), mustJob(t, st, id))

	job, err := st.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobRunning {
		t.Errorf("Status = %q, want running (dispatch should have skipped an already-claimed job)", job.Status)
	}
}

func TestRecoverStaleJobs_ResetsRunning(t *testing.T) {
	runner := llm.NewFakeRunner()
	s, st := newTestScheduler(t, runner)

	id, err := s.Schedule(context.Background(), store.JobOneShot, "p", time.Now(), "", nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := st.ClaimJob(context.Background(), id, time.Now()); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()

	job, err := st.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobPending {
		t.Errorf("Status = %q, want pending after stale recovery", job.Status)
	}
}

func mustJob(t *testing.T, st *store.Store, id string) store.Job {
	t.Helper()
	j, err := st.GetJob(context.Background(), id)
	if err != nil || j == nil {
		t.Fatalf("GetJob(%q): %v", id, err)
	}
	return *j
}
