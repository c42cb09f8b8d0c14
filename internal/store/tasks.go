package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertTask writes a new sub-agent task row in pending status.
func (s *Store) InsertTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subagent_tasks (id, agent_type, status, prompt, parent_session_id,
			created_at, updated_at, completed_at, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		t.ID, string(t.AgentType), string(t.Status), t.Prompt, t.ParentSessionID,
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(), t.Result, t.Error)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask atomically transitions a pending task to running.
func (s *Store) ClaimTask(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = 'running', updated_at = ?
		WHERE id = ? AND status = 'pending'`, now.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task rows affected: %w", err)
	}
	return n == 1, nil
}

// CancelTask marks a task cancelled if it hasn't already reached a
// terminal state.
func (s *Store) CancelTask(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

// FinishTask writes a terminal status (completed/failed) plus result or
// error, but only if the row is still 'running' — if something cancelled
// it while the work was in flight, the terminal write is skipped and the
// caller is told so.
func (s *Store) FinishTask(ctx context.Context, id string, status TaskStatus, result, errMsg string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = ?, completed_at = ?, updated_at = ?, result = ?, error = ?
		WHERE id = ? AND status = 'running'`,
		string(status), now.UnixMilli(), now.UnixMilli(), result, errMsg, id)
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish task rows affected: %w", err)
	}
	return n == 1, nil
}

// GetTask fetches one task by id, or nil if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_type, status, prompt, parent_session_id, created_at, updated_at,
			completed_at, result, error
		FROM subagent_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// RecoverStaleTasks converts every row stuck in 'running' to 'failed' with
// reason, since sub-agent tasks are one-shot and never retried.
func (s *Store) RecoverStaleTasks(ctx context.Context, reason string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = 'failed', error = ?, completed_at = ?, updated_at = ?
		WHERE status = 'running'`, reason, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteOldTerminalTasks removes terminal-state rows older than cutoff
// (TTL cleanup, default 7 days).
func (s *Store) DeleteOldTerminalTasks(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM subagent_tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND COALESCE(completed_at, updated_at) < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old terminal tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListTasks returns every task, newest-first.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_type, status, prompt, parent_session_id, created_at, updated_at,
			completed_at, result, error
		FROM subagent_tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(row scannable) (*Task, error) {
	var t Task
	var agentType, status string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	var result, errMsg sql.NullString

	if err := row.Scan(&t.ID, &agentType, &status, &t.Prompt, &t.ParentSessionID,
		&createdAt, &updatedAt, &completedAt, &result, &errMsg); err != nil {
		return nil, err
	}

	t.AgentType = AgentType(agentType)
	t.Status = TaskStatus(status)
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	t.Result = result.String
	t.Error = errMsg.String
	if completedAt.Valid {
		tm := time.UnixMilli(completedAt.Int64)
		t.CompletedAt = &tm
	}
	return &t, nil
}
