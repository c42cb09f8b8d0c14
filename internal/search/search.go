// Package search implements Fern's hybrid retrieval engine: it
// blends cosine similarity over embedded summaries/memories, BM25 keyword
// ranking, and a recency decay into one fused, ranked result set.
package search

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// Weights are the fusion constants, preserved exactly as
// specified and exposed here as overridable fields rather than inlined
// magic numbers so deployments can tune them.
type Weights struct {
	Vector       float64 // weight of vector score inside "relevance"
	Text         float64 // weight of text score inside "relevance"
	Relevance    float64 // weight of "relevance" inside the final score
	Recency      float64 // weight of recency inside the final score
	HalfLifeDays float64
}

// DefaultWeights returns the standard fusion constants.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, Text: 0.3, Relevance: 0.85, Recency: 0.15, HalfLifeDays: 30}
}

// Options configures one SearchMemory call.
type Options struct {
	ThreadID string
	Limit    int
	MinScore float64
}

// DefaultOptions returns the standard search knobs (limit=5, minScore=0.05).
func DefaultOptions() Options {
	return Options{Limit: 5, MinScore: 0.05}
}

// Result is one unified, scored hit over the archive summary or persistent
// memory corpora.
type Result struct {
	ID             string
	Source         string // "archive" | "memory"
	Text           string
	ThreadID       string
	Timestamp      time.Time
	VectorScore    float64
	TextScore      float64
	RelevanceScore float64
	RecencyScore   float64
	FinalScore     float64
}

// Engine runs hybrid search over the store's summary and memory tables.
type Engine struct {
	store    *store.Store
	embedder embeddings.Embedder
	weights  Weights
}

// New builds an Engine with DefaultWeights; override via SetWeights if a
// deployment needs different fusion constants.
func New(st *store.Store, embedder embeddings.Embedder) *Engine {
	return &Engine{store: st, embedder: embedder, weights: DefaultWeights()}
}

// SetWeights overrides the fusion constants.
func (e *Engine) SetWeights(w Weights) { e.weights = w }

// SearchMemory runs the full retrieval pass: embed, vector scan, FTS scan,
// merge by id, fuse, blend recency, filter, sort, and trim to limit.
func (e *Engine) SearchMemory(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions().Limit
	}

	merged := make(map[string]*Result)

	// Vector stage — skipped entirely if embedding the query fails or
	// yields no vector — an empty vector is a legal embedder result.
	if queryVec, err := e.embedder.Embed(ctx, query); err == nil && len(queryVec) > 0 {
		vecSummaries, err := e.store.VectorSearchSummaries(ctx, queryVec, opts.ThreadID, opts.Limit)
		if err == nil {
			mergeVector(merged, vecSummaries)
		}
		vecMemories, err := e.store.VectorSearchMemories(ctx, queryVec, opts.Limit)
		if err == nil {
			mergeVector(merged, vecMemories)
		}
	}

	// FTS stage.
	ftsQuery := buildFTSQuery(query)
	if ftsQuery != "" {
		ftsSummaries, err := e.store.FTSSearchSummaries(ctx, ftsQuery, opts.ThreadID, opts.Limit)
		if err == nil {
			mergeText(merged, ftsSummaries)
		}
		ftsMemories, err := e.store.FTSSearchMemories(ctx, ftsQuery, opts.Limit)
		if err == nil {
			mergeText(merged, ftsMemories)
		}
	}

	now := time.Now()
	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		r.RelevanceScore = e.weights.Vector*r.VectorScore + e.weights.Text*r.TextScore
		r.RecencyScore = recency(r.Timestamp, now, e.weights.HalfLifeDays)
		r.FinalScore = e.weights.Relevance*r.RelevanceScore + e.weights.Recency*r.RecencyScore
		if r.FinalScore >= opts.MinScore {
			results = append(results, *r)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		if results[i].RecencyScore != results[j].RecencyScore {
			return results[i].RecencyScore > results[j].RecencyScore
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func mergeVector(merged map[string]*Result, rows []store.Scored) {
	for _, row := range rows {
		r := getOrInit(merged, row)
		if row.VectorScore > r.VectorScore {
			r.VectorScore = row.VectorScore
		}
	}
}

func mergeText(merged map[string]*Result, rows []store.Scored) {
	for _, row := range rows {
		r := getOrInit(merged, row)
		if row.TextScore > r.TextScore {
			r.TextScore = row.TextScore
		}
	}
}

func getOrInit(merged map[string]*Result, row store.Scored) *Result {
	r, ok := merged[row.ID]
	if !ok {
		r = &Result{ID: row.ID, Source: row.Source, Text: row.Text, ThreadID: row.ThreadID, Timestamp: row.Timestamp}
		merged[row.ID] = r
	}
	return r
}

// recency computes 0.5^(ageDays/halfLifeDays); a missing (zero) timestamp
// scores a neutral 0.5.
func recency(ts, now time.Time, halfLifeDays float64) float64 {
	if ts.IsZero() {
		return 0.5
	}
	ageDays := now.Sub(ts).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

var alnumRun = regexp.MustCompile(`[A-Za-z0-9]+`)

// buildFTSQuery tokenises query into alphanumeric runs, wraps each in
// double quotes, and joins with AND — the recipe the FTS index
// expects for a BM25 query built from free text.
func buildFTSQuery(query string) string {
	tokens := alnumRun.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " AND ")
}
