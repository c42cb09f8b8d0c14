package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertJob writes a new scheduled job row.
func (s *Store) InsertJob(ctx context.Context, j Job) error {
	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, type, status, prompt, scheduled_at, cron_expr,
			created_at, updated_at, completed_at, last_run_response, last_error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		j.ID, string(j.Type), string(j.Status), j.Prompt, j.ScheduledAt.UnixMilli(), j.CronExpr,
		j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(), j.LastRunResponse, j.LastError, string(meta))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// DueJobs returns pending jobs whose scheduledAt has passed, oldest first,
// capped at limit.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, prompt, scheduled_at, cron_expr, created_at, updated_at,
			completed_at, last_run_response, last_error, metadata
		FROM scheduled_jobs
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ClaimJob atomically transitions a pending job to running. It reports
// whether this caller won the claim (exactly one row changed).
func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = 'running', updated_at = ?
		WHERE id = ? AND status = 'pending'`, now.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job rows affected: %w", err)
	}
	return n == 1, nil
}

// CompleteOneShot marks a one-shot job completed with its response.
func (s *Store) CompleteOneShot(ctx context.Context, id, response string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = 'completed', completed_at = ?, updated_at = ?,
			last_run_response = ?, last_error = NULL
		WHERE id = ?`, now.UnixMilli(), now.UnixMilli(), response, id)
	if err != nil {
		return fmt.Errorf("complete one-shot job: %w", err)
	}
	return nil
}

// RescheduleRecurring resets a recurring job back to pending at its next
// fire time after a successful run.
func (s *Store) RescheduleRecurring(ctx context.Context, id, response string, next time.Time, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = 'pending', scheduled_at = ?, updated_at = ?,
			last_run_response = ?, last_error = NULL
		WHERE id = ?`, next.UnixMilli(), now.UnixMilli(), response, id)
	if err != nil {
		return fmt.Errorf("reschedule recurring job: %w", err)
	}
	return nil
}

// FailJob marks a job failed with the given error.
func (s *Store) FailJob(ctx context.Context, id, errMsg string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = 'failed', updated_at = ?, last_error = ?
		WHERE id = ?`, now.UnixMilli(), errMsg, id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// CancelJob marks a job cancelled; terminal for one-shots, prevents future
// dispatch for recurring jobs.
func (s *Store) CancelJob(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

// RecoverStaleJobs resets every row stuck in 'running' back to 'pending'
// (called once on process start).
func (s *Store) RecoverStaleJobs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetJob fetches one job by id, or nil if absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, prompt, scheduled_at, cron_expr, created_at, updated_at,
			completed_at, last_run_response, last_error, metadata
		FROM scheduled_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// ListJobs returns every job, newest-first.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, prompt, scheduled_at, cron_expr, created_at, updated_at,
			completed_at, last_run_response, last_error, metadata
		FROM scheduled_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJob(row scannable) (*Job, error) {
	var j Job
	var typ, status string
	var scheduledAt, createdAt, updatedAt int64
	var completedAt sql.NullInt64
	var cronExpr, response, lastErr, meta sql.NullString

	if err := row.Scan(&j.ID, &typ, &status, &j.Prompt, &scheduledAt, &cronExpr,
		&createdAt, &updatedAt, &completedAt, &response, &lastErr, &meta); err != nil {
		return nil, err
	}

	j.Type = JobType(typ)
	j.Status = JobStatus(status)
	j.ScheduledAt = time.UnixMilli(scheduledAt)
	j.CreatedAt = time.UnixMilli(createdAt)
	j.UpdatedAt = time.UnixMilli(updatedAt)
	j.CronExpr = cronExpr.String
	j.LastRunResponse = response.String
	j.LastError = lastErr.String
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64)
		j.CompletedAt = &t
	}
	if meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &j.Metadata)
	}
	return &j, nil
}
