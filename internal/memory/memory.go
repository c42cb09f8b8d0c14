// Package memory implements Fern's persistent memory store: typed
// facts/preferences/learnings with CRUD and search that funnels through
// the hybrid search engine in internal/search.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/search"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// Store is the Persistent Memory store.
type Store struct {
	db       *store.Store
	embedder embeddings.Embedder
	search   *search.Engine
}

// New builds a memory Store backed by db, embedding new content through
// embedder and searching through the given hybrid search engine.
func New(db *store.Store, embedder embeddings.Embedder, engine *search.Engine) *Store {
	return &Store{db: db, embedder: embedder, search: engine}
}

// Create writes a new memory: generates a ulid id, embeds the content, and
// inserts the row plus its table/FTS/vector shadows in one transaction
// (the vector shadow is simply a NULL embedding column when embedding
// fails — search degrades to FTS-only for that row).
func (s *Store) Create(ctx context.Context, memType store.MemoryType, content string, tags []string) (*store.Memory, error) {
	now := time.Now()
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		vec = nil
	}

	m := store.Memory{
		ID:        ulid.Make().String(),
		Type:      memType,
		Content:   content,
		Tags:      tags,
		Embedding: vec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.InsertMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	return &m, nil
}

// Delete removes a memory from the table and both shadows.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.DeleteMemory(ctx, id)
}

// Get fetches one memory by id.
func (s *Store) Get(ctx context.Context, id string) (*store.Memory, error) {
	return s.db.GetMemory(ctx, id)
}

// List returns memories newest-first, optionally filtered by type, capped
// at limit (default 100).
func (s *Store) List(ctx context.Context, memType store.MemoryType, limit int) ([]store.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.db.ListMemories(ctx, memType, limit)
}

// Search runs the hybrid retrieval engine and returns only memory-sourced
// results (archive summaries are excluded — callers wanting the unified
// view should call the search engine directly).
func (s *Store) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	results, err := s.search.SearchMemory(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	out := make([]search.Result, 0, len(results))
	for _, r := range results {
		if r.Source == "memory" {
			out = append(out, r)
		}
	}
	return out, nil
}
