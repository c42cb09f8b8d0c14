package search

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertMemory(t *testing.T, st *store.Store, id, content string, createdAt time.Time) {
	t.Helper()
	err := st.InsertMemory(context.Background(), store.Memory{
		ID: id, Type: store.MemoryFact, Content: content,
		CreatedAt: createdAt, UpdatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("InsertMemory(%s): %v", id, err)
	}
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello world", `"hello" AND "world"`},
		{"  spaced   out ", `"spaced" AND "out"`},
		{"punct-uation! marks?", `"punct" AND "uation" AND "marks"`},
		{"x2go v3", `"x2go" AND "v3"`},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := buildFTSQuery(tt.in); got != tt.want {
			t.Errorf("buildFTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecency(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		ts   time.Time
		want float64
		eps  float64
	}{
		{"missing timestamp", time.Time{}, 0.5, 0},
		{"fresh", now, 1.0, 0.001},
		{"one half-life old", now.Add(-30 * 24 * time.Hour), 0.5, 0.001},
		{"two half-lives old", now.Add(-60 * 24 * time.Hour), 0.25, 0.001},
		{"future clamps to now", now.Add(24 * time.Hour), 1.0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recency(tt.ts, now, 30)
			if diff := got - tt.want; diff > tt.eps || diff < -tt.eps {
				t.Errorf("recency = %v, want %v ± %v", got, tt.want, tt.eps)
			}
		})
	}
}

// Newer of two otherwise identical memories must rank strictly higher.
func TestSearch_RecencyTiebreak(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	insertMemory(t, st, "mem_old", "X", now.Add(-90*24*time.Hour))
	insertMemory(t, st, "mem_new", "X", now)

	e := New(st, embeddings.NoopEmbedder{})
	results, err := e.SearchMemory(context.Background(), "X", Options{Limit: 5, MinScore: 0.0})
	if err != nil {
		t.Fatalf("SearchMemory: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "mem_new" {
		t.Errorf("first result = %s, want mem_new", results[0].ID)
	}
	if results[0].FinalScore <= results[1].FinalScore {
		t.Errorf("newer score %v not strictly greater than older %v",
			results[0].FinalScore, results[1].FinalScore)
	}
}

// Every fused score must stay inside [0, 1], over a corpus with several
// competing documents so bm25 ranks of varying strength are exercised:
// a dense keyword match, a diluted one, and partial matches across both
// the memory and summary indexes.
func TestSearch_FusionBounds(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	insertMemory(t, st, "mem_dense", "kubernetes kubernetes kubernetes", now)
	insertMemory(t, st, "mem_diluted", "a long rambling recap of the platform sync where many topics were raised and kubernetes was mentioned exactly once near the very end", now)
	insertMemory(t, st, "mem_a", "kubernetes cluster autoscaling notes", now)
	insertMemory(t, st, "mem_b", "kubernetes ingress controller config", now.Add(-400*24*time.Hour))

	for i, summary := range []string{
		"discussed kubernetes upgrades",
		"kubernetes incident retro: kubernetes node pool exhaustion traced to kubernetes autoscaler misconfig",
	} {
		err := st.InsertSummary(context.Background(), store.SummaryRow{
			ID: []string{"chunk_a", "chunk_b"}[i], ThreadID: "th1", SessionID: "s1",
			Summary: summary, TokenCount: 100, MessageCount: 3,
			LastTS: now.UnixMilli(), CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("InsertSummary: %v", err)
		}
	}

	e := New(st, embeddings.NoopEmbedder{})
	results, err := e.SearchMemory(context.Background(), "kubernetes", Options{Limit: 10, MinScore: 0.0})
	if err != nil {
		t.Fatalf("SearchMemory: %v", err)
	}
	if len(results) < 4 {
		t.Fatalf("got %d results, want the full corpus", len(results))
	}
	scores := make(map[string]Result, len(results))
	for _, r := range results {
		if r.TextScore < 0 || r.TextScore > 1 {
			t.Errorf("%s TextScore = %v, want [0,1]", r.ID, r.TextScore)
		}
		if r.RelevanceScore < 0 || r.RelevanceScore > 1 {
			t.Errorf("%s RelevanceScore = %v, want [0,1]", r.ID, r.RelevanceScore)
		}
		if r.RecencyScore < 0 || r.RecencyScore > 1 {
			t.Errorf("%s RecencyScore = %v, want [0,1]", r.ID, r.RecencyScore)
		}
		if r.FinalScore < 0 || r.FinalScore > 1 {
			t.Errorf("%s FinalScore = %v, want [0,1]", r.ID, r.FinalScore)
		}
		scores[r.ID] = r
	}

	// The dense keyword hit must carry a stronger text signal — and, with
	// equal timestamps, a strictly higher final score — than the diluted one.
	dense, diluted := scores["mem_dense"], scores["mem_diluted"]
	if dense.TextScore <= diluted.TextScore {
		t.Errorf("dense TextScore %v not above diluted %v", dense.TextScore, diluted.TextScore)
	}
	if dense.FinalScore <= diluted.FinalScore {
		t.Errorf("dense FinalScore %v not above diluted %v", dense.FinalScore, diluted.FinalScore)
	}
}

func TestSearch_MinScoreAndLimit(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	for _, id := range []string{"m1", "m2", "m3"} {
		insertMemory(t, st, id, "shared topic words", now)
	}

	e := New(st, embeddings.NoopEmbedder{})

	results, err := e.SearchMemory(context.Background(), "shared topic", Options{Limit: 2, MinScore: 0.0})
	if err != nil {
		t.Fatalf("SearchMemory: %v", err)
	}
	if len(results) > 2 {
		t.Errorf("got %d results, want ≤ 2", len(results))
	}

	results, err = e.SearchMemory(context.Background(), "shared topic", Options{Limit: 5, MinScore: 1.1})
	if err != nil {
		t.Fatalf("SearchMemory: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("minScore above max still returned %d results", len(results))
	}
}

func TestSearch_ThreadFilterOnSummaries(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	for i, thread := range []string{"th1", "th2"} {
		err := st.InsertSummary(context.Background(), store.SummaryRow{
			ID: []string{"chunk_1", "chunk_2"}[i], ThreadID: thread, SessionID: "s",
			Summary: "weekly planning recap", TokenCount: 10, MessageCount: 1,
			LastTS: now.UnixMilli(), CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("InsertSummary: %v", err)
		}
	}

	e := New(st, embeddings.NoopEmbedder{})
	results, err := e.SearchMemory(context.Background(), "planning recap", Options{ThreadID: "th1", Limit: 5, MinScore: 0.0})
	if err != nil {
		t.Fatalf("SearchMemory: %v", err)
	}
	for _, r := range results {
		if r.Source == "archive" && r.ThreadID != "th1" {
			t.Errorf("archive result from thread %s leaked through filter", r.ThreadID)
		}
	}
}
