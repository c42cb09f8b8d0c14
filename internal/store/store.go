// Package store implements Fern's storage core: a single embedded SQLite
// database holding summaries, persistent memories, scheduled jobs,
// sub-agent tasks, and thread sessions, plus FTS5 shadow tables for
// keyword search. The embedded driver is pure-Go modernc.org/sqlite, so
// there is no native vector extension available — vector similarity is a
// brute-force cosine scan over rows decoded with vectorFromBlob instead of
// a vec0 virtual table query.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the process-wide singleton handle onto Fern's embedded database.
// All components that touch persistence take a *Store rather than reaching
// for global state, so tests can construct a fresh one against a temp path.
type Store struct {
	db       *sql.DB
	path     string
	logger   *slog.Logger
	mu       sync.Mutex // guards re-init after Close
	vectorOK bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a structured logger; component loggers should be
// derived from it via logger.With("component", "store").
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates the storage directory if needed and opens the embedded
// database at <dir>/fern.db. It does not create schema — call Init for that.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, "fern.db")

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// All statements, reads included, serialize through one connection,
	// so concurrent writers never hit SQLITE_BUSY against each other.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// DB returns the underlying *sql.DB for callers that need raw access.
// Fern's own components go through the Store methods instead.
func (s *Store) DB() *sql.DB { return s.db }

// IsVectorReady reports whether a native vector extension is loaded. The
// pure-Go driver never loads one, so this always returns false; callers
// use it to decide whether to log that search is running FTS-only.
func (s *Store) IsVectorReady() bool { return s.vectorOK }

// Init creates all tables and FTS5 shadow indexes idempotently. Safe to
// call on every boot.
func (s *Store) Init(ctx context.Context) error {
	s.logger.Debug("store: init started", "path", s.path)

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			first_message_id TEXT,
			last_message_id TEXT,
			first_ts INTEGER,
			last_ts INTEGER,
			embedding BLOB,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT,
			embedding BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL,
			scheduled_at INTEGER NOT NULL,
			cron_expr TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER,
			last_run_response TEXT,
			last_error TEXT,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS subagent_tasks (
			id TEXT PRIMARY KEY,
			agent_type TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL,
			parent_session_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER,
			result TEXT,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS thread_sessions (
			thread_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			share_url TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS archive_watermarks (
			thread_id TEXT PRIMARY KEY,
			last_archived_index INTEGER NOT NULL,
			last_archived_message_id TEXT,
			total_archived_tokens INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			last_archived_at INTEGER,
			session_id TEXT
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_summaries_thread ON summaries(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_status_time ON scheduled_jobs(status, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_subagent_tasks_status ON subagent_tasks(status)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	fts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS summaries_fts USING fts5(id UNINDEXED, summary)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(id UNINDEXED, content)`,
	}
	for _, stmt := range fts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create fts table: %w", err)
		}
	}

	s.logger.Info("store: init complete", "path", s.path, "vector_ready", s.vectorOK)
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// vectorToBlob interprets a slice of 32-bit floats in little-endian,
// matching the on-disk format vectorFromBlob expects.
func vectorToBlob(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// vectorFromBlob is the inverse of vectorToBlob.
func vectorFromBlob(blob []byte) []float32 {
	n := len(blob) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// bm25Score normalises an FTS5 bm25() rank to a (0,1) text score. FTS5
// ranks are negative with stronger matches more negative, so the rank is
// negated before squashing; a stronger keyword hit always scores higher.
// A non-negative rank (no real match signal) scores zero.
func bm25Score(rank float64) float64 {
	negated := -rank
	if negated <= 0 {
		return 0
	}
	return negated / (1 + negated)
}

// cosineSimilarity computes cosine similarity between two equal-length
// float32 vectors; mismatched or empty input scores zero rather than
// erroring, since callers treat a missing embedding as "no vector signal".
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
