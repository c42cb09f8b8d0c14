package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertSummary writes a chunk's summary row plus its FTS shadow inside one
// transaction. The vector column is left NULL when embedding failed —
// callers pass a nil/empty Embedding for that.
func (s *Store) InsertSummary(ctx context.Context, row SummaryRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var blob []byte
	if len(row.Embedding) > 0 {
		blob = vectorToBlob(row.Embedding)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO summaries (id, thread_id, session_id, summary, token_count, message_count,
			first_message_id, last_message_id, first_ts, last_ts, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ThreadID, row.SessionID, row.Summary, row.TokenCount, row.MessageCount,
		row.FirstMessageID, row.LastMessageID, row.FirstTS, row.LastTS, blob, row.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO summaries_fts (id, summary) VALUES (?, ?)`, row.ID, row.Summary); err != nil {
		return fmt.Errorf("insert summary fts: %w", err)
	}

	return tx.Commit()
}

// GetWatermark returns the per-thread archival cursor, or nil if the thread
// has never been archived.
func (s *Store) GetWatermark(ctx context.Context, threadID string) (*Watermark, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, last_archived_index, last_archived_message_id, total_archived_tokens,
			total_chunks, last_archived_at, session_id
		FROM archive_watermarks WHERE thread_id = ?`, threadID)

	var wm Watermark
	var lastMsgID, sessionID sql.NullString
	var lastAt sql.NullInt64
	if err := row.Scan(&wm.ThreadID, &wm.LastArchivedIndex, &lastMsgID, &wm.TotalArchivedTokens,
		&wm.TotalChunks, &lastAt, &sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	wm.LastArchivedMessageID = lastMsgID.String
	wm.SessionID = sessionID.String
	if lastAt.Valid {
		wm.LastArchivedAt = time.UnixMilli(lastAt.Int64)
	}
	return &wm, nil
}

// SaveWatermark upserts a thread's archival cursor.
func (s *Store) SaveWatermark(ctx context.Context, wm Watermark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archive_watermarks (thread_id, last_archived_index, last_archived_message_id,
			total_archived_tokens, total_chunks, last_archived_at, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			last_archived_index = excluded.last_archived_index,
			last_archived_message_id = excluded.last_archived_message_id,
			total_archived_tokens = excluded.total_archived_tokens,
			total_chunks = excluded.total_chunks,
			last_archived_at = excluded.last_archived_at,
			session_id = excluded.session_id`,
		wm.ThreadID, wm.LastArchivedIndex, wm.LastArchivedMessageID, wm.TotalArchivedTokens,
		wm.TotalChunks, wm.LastArchivedAt.UnixMilli(), wm.SessionID)
	if err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

// ListSummariesByThread returns every summary row for a thread, oldest
// first — used by the dashboard read API and by tests checking chunk
// coverage.
func (s *Store) ListSummariesByThread(ctx context.Context, threadID string) ([]SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, session_id, summary, token_count, message_count,
			first_message_id, last_message_id, first_ts, last_ts, created_at
		FROM summaries WHERE thread_id = ? ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var r SummaryRow
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.SessionID, &r.Summary, &r.TokenCount, &r.MessageCount,
			&r.FirstMessageID, &r.LastMessageID, &r.FirstTS, &r.LastTS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// VectorSearchSummaries brute-force scans every embedded summary row and
// returns the top limit by cosine similarity, optionally filtered to one
// thread. See the package doc for why this isn't a native vec0 query.
func (s *Store) VectorSearchSummaries(ctx context.Context, query []float32, threadID string, limit int) ([]Scored, error) {
	q := `SELECT id, thread_id, summary, last_ts, embedding FROM summaries WHERE embedding IS NOT NULL`
	args := []interface{}{}
	if threadID != "" {
		q += ` AND thread_id = ?`
		args = append(args, threadID)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search summaries: %w", err)
	}
	defer rows.Close()

	var candidates []Scored
	for rows.Next() {
		var id, tid, summary string
		var lastTS int64
		var blob []byte
		if err := rows.Scan(&id, &tid, &summary, &lastTS, &blob); err != nil {
			return nil, fmt.Errorf("scan summary for vector search: %w", err)
		}
		sim := cosineSimilarity(query, vectorFromBlob(blob))
		candidates = append(candidates, Scored{
			ID: id, Source: "archive", Text: summary, ThreadID: tid,
			Timestamp: time.UnixMilli(lastTS), VectorScore: sim,
		})
	}
	return topByVectorScore(candidates, limit), rows.Err()
}

// FTSSearchSummaries runs ftsQuery (already tokenised/quoted by the caller)
// against the summary FTS5 index and scores by normalised bm25 rank.
func (s *Store) FTSSearchSummaries(ctx context.Context, ftsQuery, threadID string, limit int) ([]Scored, error) {
	q := `
		SELECT s.id, s.thread_id, s.summary, s.last_ts, bm25(summaries_fts) AS rank
		FROM summaries_fts
		JOIN summaries s ON s.id = summaries_fts.id
		WHERE summaries_fts MATCH ?`
	args := []interface{}{ftsQuery}
	if threadID != "" {
		q += ` AND s.thread_id = ?`
		args = append(args, threadID)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fts search summaries: %w", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var id, tid, summary string
		var lastTS int64
		var rank float64
		if err := rows.Scan(&id, &tid, &summary, &lastTS, &rank); err != nil {
			return nil, fmt.Errorf("scan summary for fts search: %w", err)
		}
		out = append(out, Scored{
			ID: id, Source: "archive", Text: summary, ThreadID: tid,
			Timestamp: time.UnixMilli(lastTS), TextScore: bm25Score(rank),
		})
	}
	return out, rows.Err()
}

// GetSummary fetches one summary row by chunk id.
func (s *Store) GetSummary(ctx context.Context, id string) (*SummaryRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, session_id, summary, token_count, message_count,
			first_message_id, last_message_id, first_ts, last_ts, created_at
		FROM summaries WHERE id = ?`, id)

	var r SummaryRow
	var createdAt int64
	if err := row.Scan(&r.ID, &r.ThreadID, &r.SessionID, &r.Summary, &r.TokenCount, &r.MessageCount,
		&r.FirstMessageID, &r.LastMessageID, &r.FirstTS, &r.LastTS, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get summary: %w", err)
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	return &r, nil
}
