package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/search"
	"github.com/nextlevelbuilder/fern/internal/sessions"
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

func TestLoop_Execute_ReturnsFinalText(t *testing.T) {
	st := openTestStore(t)
	runner := llm.NewFakeRunner()
	runner.Response = "hello there"
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := New(registry, runner, nil, nil, nil)

	got, err := loop.Execute(context.Background(), "thread_1", "test thread", "hi")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "hello there" {
		t.Errorf("Execute = %q, want %q", got, "hello there")
	}
}

func TestLoop_Execute_ReusesSession(t *testing.T) {
	st := openTestStore(t)
	runner := llm.NewFakeRunner()
	runner.Response = "ok"
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := New(registry, runner, nil, nil, nil)

	if _, err := loop.Execute(context.Background(), "thread_1", "t", "first"); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := loop.Execute(context.Background(), "thread_1", "t", "second"); err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	s, ok := registry.Lookup("thread_1")
	if !ok {
		t.Fatal("expected a session bound to thread_1")
	}
	if s.ID == "" {
		t.Error("expected a non-empty session id")
	}
}

func TestLoop_Execute_SendPromptFailure(t *testing.T) {
	st := openTestStore(t)
	runner := llm.NewFakeRunner()
	runner.Fail = true
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := New(registry, runner, nil, nil, nil)

	if _, err := loop.Execute(context.Background(), "thread_1", "t", "hi"); err == nil {
		t.Fatal("expected an error when SendPrompt fails")
	}
}

func TestLoop_Execute_AutoMemoryInjectsContext(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()
	err := st.InsertMemory(context.Background(), store.Memory{
		ID: "mem_1", Type: store.MemoryFact, Content: "deploys happen on fridays",
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	runner := llm.NewFakeRunner()
	runner.Response = "noted"
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := New(registry, runner, nil, nil, nil)
	loop.EnableAutoMemory(search.New(st, embeddings.NoopEmbedder{}), AutoMemoryOptions{TopK: 5, MinRelevance: 0.0, MaxChars: 4000})

	if _, err := loop.Execute(context.Background(), "thread_1", "t", "deploys on fridays?"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s, ok := registry.Lookup("thread_1")
	if !ok {
		t.Fatal("no session bound")
	}
	msgs, err := runner.ListMessages(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatal("no messages recorded")
	}
	sent := msgs[0].Parts[0].Text
	if !strings.Contains(sent, "deploys happen on fridays") {
		t.Errorf("prompt sent without memory context: %q", sent)
	}
	if !strings.Contains(sent, "deploys on fridays?") {
		t.Errorf("prompt sent without the original message: %q", sent)
	}
}

func TestLoop_Execute_AutoMemoryNoHitsLeavesPromptAlone(t *testing.T) {
	st := openTestStore(t)
	runner := llm.NewFakeRunner()
	runner.Response = "ok"
	registry := sessions.NewRegistry(st, runner, time.Hour)
	loop := New(registry, runner, nil, nil, nil)
	loop.EnableAutoMemory(search.New(st, embeddings.NoopEmbedder{}), AutoMemoryOptions{TopK: 5, MinRelevance: 0.0})

	if _, err := loop.Execute(context.Background(), "thread_1", "t", "plain question"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s, _ := registry.Lookup("thread_1")
	msgs, _ := runner.ListMessages(context.Background(), s.ID)
	if got := msgs[0].Parts[0].Text; got != "plain question" {
		t.Errorf("prompt was modified with no retrieval hits: %q", got)
	}
}
