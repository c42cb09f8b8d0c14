package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetThreadSession returns a thread's durable session row, or nil if the
// thread has never had one (or was evicted).
func (s *Store) GetThreadSession(ctx context.Context, threadID string) (*ThreadSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, session_id, share_url, created_at, updated_at
		FROM thread_sessions WHERE thread_id = ?`, threadID)

	var ts ThreadSession
	var shareURL sql.NullString
	var created, updated int64
	if err := row.Scan(&ts.ThreadID, &ts.SessionID, &shareURL, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread session: %w", err)
	}
	ts.ShareURL = shareURL.String
	ts.CreatedAt = time.UnixMilli(created)
	ts.UpdatedAt = time.UnixMilli(updated)
	return &ts, nil
}

// UpsertThreadSession writes or refreshes a thread's durable session row.
func (s *Store) UpsertThreadSession(ctx context.Context, ts ThreadSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_sessions (thread_id, session_id, share_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			session_id = excluded.session_id,
			share_url = excluded.share_url,
			updated_at = excluded.updated_at`,
		ts.ThreadID, ts.SessionID, ts.ShareURL, ts.CreatedAt.UnixMilli(), ts.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert thread session: %w", err)
	}
	return nil
}

// TouchThreadSession bumps a thread session's updated_at without changing
// its session id — used on every registry access to keep the TTL alive.
func (s *Store) TouchThreadSession(ctx context.Context, threadID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE thread_sessions SET updated_at = ? WHERE thread_id = ?`, now.UnixMilli(), threadID)
	if err != nil {
		return fmt.Errorf("touch thread session: %w", err)
	}
	return nil
}

// DeleteThreadSession removes a thread's durable session row (eviction or
// explicit rotation).
func (s *Store) DeleteThreadSession(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM thread_sessions WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread session: %w", err)
	}
	return nil
}

// ListStaleThreadSessions returns every thread session whose updated_at
// precedes cutoff — the TTL sweep's candidate set.
func (s *Store) ListStaleThreadSessions(ctx context.Context, cutoff time.Time) ([]ThreadSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, session_id, share_url, created_at, updated_at
		FROM thread_sessions WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list stale thread sessions: %w", err)
	}
	defer rows.Close()

	var out []ThreadSession
	for rows.Next() {
		var ts ThreadSession
		var shareURL sql.NullString
		var created, updated int64
		if err := rows.Scan(&ts.ThreadID, &ts.SessionID, &shareURL, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan thread session: %w", err)
		}
		ts.ShareURL = shareURL.String
		ts.CreatedAt = time.UnixMilli(created)
		ts.UpdatedAt = time.UnixMilli(updated)
		out = append(out, ts)
	}
	return out, rows.Err()
}

// ListThreadSessions returns every durable thread-session row, newest
// activity first — the dashboard's session listing.
func (s *Store) ListThreadSessions(ctx context.Context) ([]ThreadSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, session_id, share_url, created_at, updated_at
		FROM thread_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list thread sessions: %w", err)
	}
	defer rows.Close()

	var out []ThreadSession
	for rows.Next() {
		var ts ThreadSession
		var shareURL sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&ts.ThreadID, &ts.SessionID, &shareURL, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan thread session: %w", err)
		}
		ts.ShareURL = shareURL.String
		ts.CreatedAt = time.UnixMilli(createdAt)
		ts.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, ts)
	}
	return out, rows.Err()
}
