package subagent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/fern/internal/agent"
	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/sessions"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// blockingRunner parks every turn until Release is called, so tests can
// observe a task mid-execution.
type blockingRunner struct {
	*llm.FakeRunner
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	startOne sync.Once
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		FakeRunner: llm.NewFakeRunner(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (b *blockingRunner) SubscribeEvents(ctx context.Context, sessionID string) (<-chan llm.Event, error) {
	b.startOne.Do(func() { close(b.started) })
	ch := make(chan llm.Event, 1)
	go func() {
		select {
		case <-b.release:
			ch <- llm.Event{Kind: llm.EventSessionIdle, SessionIdle: &llm.SessionIdleEvent{FinalText: "late"}}
		case <-ctx.Done():
		}
		close(ch)
	}()
	return ch, nil
}

func (b *blockingRunner) Release() {
	b.once.Do(func() { close(b.release) })
}

// A cancel issued while the task runs must leave the stored status
// cancelled — the completion write is skipped on the re-read.
func TestCancel_WhileRunning_KeepsCancelledStatus(t *testing.T) {
	st := openTestStore(t)
	runner := newBlockingRunner()
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := agent.New(registry, runner, nil, nil, nil)
	e := New(st, loop, DefaultConfig(), nil)

	id, err := e.Spawn(context.Background(), store.AgentGeneral, "slow work", "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("task never started executing")
	}

	if err := e.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	runner.Release()

	task, err := e.WaitForTask(context.Background(), id)
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if task.Status != store.TaskCancelled {
		t.Errorf("Status = %q, want cancelled (terminal write must be skipped)", task.Status)
	}
}

// Rows left in running by a crashed process become failed on Start, with
// the restart reason recorded.
func TestStart_RecoversStaleRunningTasks(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	stale := store.Task{ID: "task_stale", AgentType: store.AgentGeneral, Status: store.TaskRunning, CreatedAt: now, UpdatedAt: now}
	if err := st.InsertTask(context.Background(), stale); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	runner := llm.NewFakeRunner()
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := agent.New(registry, runner, nil, nil, nil)
	cfg := DefaultConfig()
	cfg.CleanupInterval = time.Hour
	e := New(st, loop, cfg, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()

	task, err := st.GetTask(context.Background(), "task_stale")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != store.TaskFailed {
		t.Errorf("Status = %q, want failed", task.Status)
	}
	if task.Error != staleRecoveryReason {
		t.Errorf("Error = %q, want %q", task.Error, staleRecoveryReason)
	}
}

func TestDeleteOldTerminalTasks(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	old := store.Task{ID: "task_old", AgentType: store.AgentGeneral, Status: store.TaskCompleted,
		CreatedAt: now.Add(-8 * 24 * time.Hour), UpdatedAt: now.Add(-8 * 24 * time.Hour)}
	fresh := store.Task{ID: "task_fresh", AgentType: store.AgentGeneral, Status: store.TaskCompleted,
		CreatedAt: now, UpdatedAt: now}
	for _, task := range []store.Task{old, fresh} {
		if err := st.InsertTask(context.Background(), task); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}

	n, err := st.DeleteOldTerminalTasks(context.Background(), now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldTerminalTasks: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}
	if task, _ := st.GetTask(context.Background(), "task_fresh"); task == nil {
		t.Error("fresh terminal task was deleted")
	}
}
