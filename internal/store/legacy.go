package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// legacySummary is one line of the pre-database JSONL export: earlier
// deployments appended chunk summaries to a flat file instead of the
// summaries table, with no embeddings at all.
type legacySummary struct {
	ID         string `json:"id,omitempty"`
	ThreadID   string `json:"thread_id"`
	SessionID  string `json:"session_id,omitempty"`
	Summary    string `json:"summary"`
	TokenCount int    `json:"token_count,omitempty"`
	CreatedAt  int64  `json:"created_at,omitempty"`
}

// EmbedBatchFunc batch-embeds texts; it matches the embeddings client's
// EmbedBatch signature without making this package depend on it.
type EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// ImportLegacySummaries performs the one-time migration of a legacy JSONL
// summary file: read every line, batch-embed, insert rows, then delete the
// file so the migration never re-runs. A missing file is a no-op. Embedding
// failure is not fatal — rows are inserted without vectors and search
// degrades to FTS-only for them.
func (s *Store) ImportLegacySummaries(ctx context.Context, path string, embed EmbedBatchFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open legacy summaries: %w", err)
	}

	var entries []legacySummary
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e legacySummary
		if err := json.Unmarshal(line, &e); err != nil {
			s.logger.Warn("store: skipping malformed legacy summary line", "error", err)
			continue
		}
		if e.Summary == "" {
			continue
		}
		entries = append(entries, e)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("read legacy summaries: %w", scanErr)
	}

	var vectors [][]float32
	if embed != nil && len(entries) > 0 {
		texts := make([]string, len(entries))
		for i, e := range entries {
			texts[i] = e.Summary
		}
		if vecs, err := embed(ctx, texts); err == nil && len(vecs) == len(entries) {
			vectors = vecs
		} else if err != nil {
			s.logger.Warn("store: legacy summary embedding failed, importing without vectors", "error", err)
		}
	}

	inserted := 0
	for i, e := range entries {
		row := SummaryRow{
			ID:         e.ID,
			ThreadID:   e.ThreadID,
			SessionID:  e.SessionID,
			Summary:    e.Summary,
			TokenCount: e.TokenCount,
			CreatedAt:  time.UnixMilli(e.CreatedAt),
		}
		if row.ID == "" {
			row.ID = "chunk_" + ulid.Make().String()
		}
		if e.CreatedAt == 0 {
			row.CreatedAt = time.Now()
		}
		if vectors != nil {
			row.Embedding = vectors[i]
		}
		if err := s.InsertSummary(ctx, row); err != nil {
			return inserted, fmt.Errorf("import legacy summary %s: %w", row.ID, err)
		}
		inserted++
	}

	if err := os.Remove(path); err != nil {
		return inserted, fmt.Errorf("remove legacy summaries file: %w", err)
	}
	s.logger.Info("store: legacy summaries imported", "count", inserted, "path", path)
	return inserted, nil
}
