package store

import (
	"context"
	"math"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenInit_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestVectorBlobRoundTrip(t *testing.T) {
	tests := [][]float32{
		{},
		{1.5},
		{0.1, -0.2, 3.25, 1e10, -1e-10},
	}
	for _, vec := range tests {
		blob := vectorToBlob(vec)
		got := vectorFromBlob(blob)
		if len(got) != len(vec) {
			t.Fatalf("round trip length = %d, want %d", len(got), len(vec))
		}
		for i := range vec {
			if got[i] != vec[i] {
				t.Errorf("round trip[%d] = %v, want %v", i, got[i], vec[i])
			}
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched length", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIsVectorReady_AlwaysFalse(t *testing.T) {
	s := openTestStore(t)
	if s.IsVectorReady() {
		t.Error("IsVectorReady() = true, want false under the pure-Go driver")
	}
}

func TestBM25Score(t *testing.T) {
	tests := []struct {
		name string
		rank float64
	}{
		{"strong match", -5},
		{"moderate match", -1.2},
		{"weak match", -0.5},
		{"no signal", 0},
		{"positive rank guard", 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bm25Score(tt.rank)
			if got < 0 || got >= 1 {
				t.Errorf("bm25Score(%v) = %v, want [0,1)", tt.rank, got)
			}
		})
	}

	// A stronger (more negative) rank must always score strictly higher.
	strong, weak := bm25Score(-5), bm25Score(-0.5)
	if strong <= weak {
		t.Errorf("bm25Score(-5) = %v not greater than bm25Score(-0.5) = %v", strong, weak)
	}
	if bm25Score(0.3) != 0 {
		t.Errorf("bm25Score(0.3) = %v, want 0 for non-negative ranks", bm25Score(0.3))
	}
}

// End-to-end over a real FTS index: the document with the denser keyword
// match must out-score the diluted one, and every score stays in [0,1].
func TestFTSSearchMemories_RankNormalisation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	docs := map[string]string{
		"mem_dense":   "kubernetes kubernetes kubernetes",
		"mem_diluted": "yesterday we talked for a long while about many infrastructure topics and kubernetes came up only once in passing near the end of the conversation",
		"mem_other":   "kubernetes cluster notes from the platform team covering upgrades and rollbacks",
	}
	for id, content := range docs {
		err := s.InsertMemory(context.Background(), Memory{
			ID: id, Type: MemoryFact, Content: content, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("InsertMemory(%s): %v", id, err)
		}
	}

	results, err := s.FTSSearchMemories(context.Background(), `"kubernetes"`, 10)
	if err != nil {
		t.Fatalf("FTSSearchMemories: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	scores := make(map[string]float64, len(results))
	for _, r := range results {
		if r.TextScore < 0 || r.TextScore > 1 {
			t.Errorf("%s TextScore = %v, want [0,1]", r.ID, r.TextScore)
		}
		scores[r.ID] = r.TextScore
	}
	if scores["mem_dense"] <= scores["mem_diluted"] {
		t.Errorf("dense match scored %v, not above diluted match %v",
			scores["mem_dense"], scores["mem_diluted"])
	}
}
