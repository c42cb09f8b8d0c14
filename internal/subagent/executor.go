// Package subagent implements Fern's bounded sub-agent task executor
// : atomic claim, a worker pool bounded by maxConcurrentTasks, and
// waitForTask-style completion signalling for callers that spawned a task
// and need its result.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nextlevelbuilder/fern/internal/agent"
	"github.com/nextlevelbuilder/fern/internal/sessions"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// ErrShuttingDown is returned to every pending and future waiter once
// Shutdown has been called.
var ErrShuttingDown = errors.New("subagent executor is shutting down")

// staleRecoveryReason is recorded on every task reset by RecoverStaleTasks.
const staleRecoveryReason = "Process restarted during execution"

// Config holds the executor's tuning knobs.
type Config struct {
	MaxConcurrent   int           // maxConcurrentTasks, default 3
	TaskTTL         time.Duration // terminal rows older than this are pruned, default 7 days
	CleanupInterval time.Duration // how often the TTL sweep runs
}

// DefaultConfig returns the executor's documented defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 3, TaskTTL: 7 * 24 * time.Hour, CleanupInterval: time.Hour}
}

// Executor runs sub-agent tasks through the reasoning loop with bounded
// concurrency.
type Executor struct {
	store *store.Store
	loop  *agent.Loop
	cfg   Config
	sem   chan struct{}

	mu           sync.Mutex
	waiters      map[string][]chan error
	shuttingDown bool

	logger *slog.Logger
	wg     sync.WaitGroup
	stop   chan struct{}
}

// New builds an Executor.
func New(st *store.Store, loop *agent.Loop, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	return &Executor{
		store: st, loop: loop, cfg: cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		waiters: make(map[string][]chan error),
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Start recovers tasks stranded in "running" from a prior process and
// begins the TTL cleanup loop.
func (e *Executor) Start(ctx context.Context) error {
	n, err := e.store.RecoverStaleTasks(ctx, staleRecoveryReason, time.Now())
	if err != nil {
		return fmt.Errorf("recover stale tasks: %w", err)
	}
	if n > 0 {
		e.logger.Info("recovered stale subagent tasks on start", "count", n)
	}

	e.wg.Add(1)
	go e.cleanupLoop(ctx)
	return nil
}

// Stop signals the cleanup loop to exit, rejects all pending waiters, and
// waits for in-flight task executions to finish.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.shuttingDown = true
	pending := e.waiters
	e.waiters = make(map[string][]chan error)
	e.mu.Unlock()

	for _, chans := range pending {
		for _, ch := range chans {
			ch <- ErrShuttingDown
			close(ch)
		}
	}

	close(e.stop)
	e.wg.Wait()
}

func (e *Executor) cleanupLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			n, err := e.store.DeleteOldTerminalTasks(ctx, time.Now().Add(-e.cfg.TaskTTL))
			if err != nil {
				e.logger.Error("subagent task TTL cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.Info("pruned terminal subagent tasks", "count", n)
			}
		}
	}
}

// Spawn inserts a new pending task and dispatches it for execution,
// returning the task's id immediately.
func (e *Executor) Spawn(ctx context.Context, agentType store.AgentType, prompt, parentSessionID string) (string, error) {
	e.mu.Lock()
	shuttingDown := e.shuttingDown
	e.mu.Unlock()
	if shuttingDown {
		return "", ErrShuttingDown
	}

	now := time.Now()
	task := store.Task{
		ID: ulid.Make().String(), AgentType: agentType, Status: store.TaskPending,
		Prompt: prompt, ParentSessionID: parentSessionID, CreatedAt: now, UpdatedAt: now,
	}
	if err := e.store.InsertTask(ctx, task); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}

	e.spawnTask(ctx, task.ID)
	return task.ID, nil
}

// spawnTask claims the task; a failed claim means it was already taken or
// cancelled out from under us, so completion is signalled immediately with
// no execution.
func (e *Executor) spawnTask(ctx context.Context, id string) {
	claimed, err := e.store.ClaimTask(ctx, id, time.Now())
	if err != nil {
		e.logger.Error("claim task failed", "task_id", id, "error", err)
		e.signalDone(id, nil)
		return
	}
	if !claimed {
		e.signalDone(id, nil)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-e.sem }()
		e.execute(ctx, id)
	}()
}

// execute runs the claimed task's prompt through the reasoning loop, then
// re-reads the row before writing a terminal state: if something cancelled
// it while the work was in flight, the terminal write is skipped.
func (e *Executor) execute(ctx context.Context, id string) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil || task == nil {
		e.logger.Error("load claimed task failed", "task_id", id, "error", err)
		e.signalDone(id, nil)
		return
	}

	threadID := sessions.SubagentThreadID(id)
	result, runErr := e.loop.Execute(ctx, threadID, fmt.Sprintf("%s subagent task", task.AgentType), task.Prompt)

	cur, err := e.store.GetTask(ctx, id)
	if err != nil {
		e.logger.Error("re-read task before terminal write failed", "task_id", id, "error", err)
		e.signalDone(id, nil)
		return
	}
	if cur.Status == store.TaskCancelled {
		e.signalDone(id, nil)
		return
	}

	now := time.Now()
	status, errMsg := store.TaskCompleted, ""
	if runErr != nil {
		status, errMsg = store.TaskFailed, runErr.Error()
	}
	if _, err := e.store.FinishTask(ctx, id, status, result, errMsg, now); err != nil {
		e.logger.Error("finish task write failed", "task_id", id, "error", err)
	}
	e.signalDone(id, nil)
}

// Cancel marks a task cancelled. If it is still running, the in-flight
// execute() call will notice on its re-read and skip the terminal write.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	return e.store.CancelTask(ctx, id, time.Now())
}

// WaitForTask blocks until id reaches a terminal state, resolving
// synchronously if it already has. It returns ErrShuttingDown if Stop is
// called (or has already been called) while waiting.
func (e *Executor) WaitForTask(ctx context.Context, id string) (*store.Task, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %q not found", id)
	}
	if isTerminal(task.Status) {
		return task, nil
	}

	ch := make(chan error, 1)
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}
	e.waiters[id] = append(e.waiters[id], ch)
	e.mu.Unlock()

	select {
	case err := <-ch:
		if err != nil {
			return nil, err
		}
		return e.store.GetTask(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) signalDone(id string, err error) {
	e.mu.Lock()
	chans := e.waiters[id]
	delete(e.waiters, id)
	e.mu.Unlock()
	for _, ch := range chans {
		ch <- err
		close(ch)
	}
}

func isTerminal(status store.TaskStatus) bool {
	switch status {
	case store.TaskCompleted, store.TaskFailed, store.TaskCancelled:
		return true
	default:
		return false
	}
}
