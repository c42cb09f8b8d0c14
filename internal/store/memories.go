package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertMemory writes a memory row plus its FTS shadow in one transaction.
func (s *Store) InsertMemory(ctx context.Context, m Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var blob []byte
	if len(m.Embedding) > 0 {
		blob = vectorToBlob(m.Embedding)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, type, content, tags, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Type), m.Content, strings.Join(m.Tags, ","), blob,
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts (id, content) VALUES (?, ?)`, m.ID, m.Content); err != nil {
		return fmt.Errorf("insert memory fts: %w", err)
	}

	return tx.Commit()
}

// DeleteMemory removes a memory from the table and both shadows.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory fts: %w", err)
	}
	return tx.Commit()
}

// GetMemory fetches one memory by id, or nil if absent.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, content, tags, created_at, updated_at FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMemories returns memories newest-first, optionally filtered by type.
func (s *Store) ListMemories(ctx context.Context, memType MemoryType, limit int) ([]Memory, error) {
	q := `SELECT id, type, content, tags, created_at, updated_at FROM memories`
	args := []interface{}{}
	if memType != "" {
		q += ` WHERE type = ?`
		args = append(args, string(memType))
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scannable) (*Memory, error) {
	var m Memory
	var typ, tags string
	var created, updated int64
	if err := row.Scan(&m.ID, &typ, &m.Content, &tags, &created, &updated); err != nil {
		return nil, err
	}
	m.Type = MemoryType(typ)
	if tags != "" {
		m.Tags = strings.Split(tags, ",")
	}
	m.CreatedAt = time.UnixMilli(created)
	m.UpdatedAt = time.UnixMilli(updated)
	return &m, nil
}

// VectorSearchMemories brute-force cosine-scans embedded memory rows.
func (s *Store) VectorSearchMemories(ctx context.Context, query []float32, limit int) ([]Scored, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, created_at, embedding FROM memories WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("vector search memories: %w", err)
	}
	defer rows.Close()

	var candidates []Scored
	for rows.Next() {
		var id, content string
		var createdAt int64
		var blob []byte
		if err := rows.Scan(&id, &content, &createdAt, &blob); err != nil {
			return nil, fmt.Errorf("scan memory for vector search: %w", err)
		}
		sim := cosineSimilarity(query, vectorFromBlob(blob))
		candidates = append(candidates, Scored{
			ID: id, Source: "memory", Text: content,
			Timestamp: time.UnixMilli(createdAt), VectorScore: sim,
		})
	}
	return topByVectorScore(candidates, limit), rows.Err()
}

// FTSSearchMemories runs ftsQuery against the memory FTS5 index.
func (s *Store) FTSSearchMemories(ctx context.Context, ftsQuery string, limit int) ([]Scored, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.created_at, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.id
		WHERE memories_fts MATCH ?
		ORDER BY rank LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search memories: %w", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var id, content string
		var createdAt int64
		var rank float64
		if err := rows.Scan(&id, &content, &createdAt, &rank); err != nil {
			return nil, fmt.Errorf("scan memory for fts search: %w", err)
		}
		out = append(out, Scored{
			ID: id, Source: "memory", Text: content,
			Timestamp: time.UnixMilli(createdAt), TextScore: bm25Score(rank),
		})
	}
	return out, rows.Err()
}
