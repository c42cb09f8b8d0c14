package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/fern/internal/llm"
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

func TestGetOrCreateSession_ReusesWithinTTL(t *testing.T) {
	st := openTestStore(t)
	r := NewRegistry(st, llm.NewFakeRunner(), time.Hour)

	first, _, err := r.GetOrCreateSession(context.Background(), "whatsapp_+1555", "t")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	second, _, err := r.GetOrCreateSession(context.Background(), "whatsapp_+1555", "t")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if first != second {
		t.Errorf("session rotated within TTL: %q then %q", first, second)
	}
}

func TestGetOrCreateSession_DistinctThreads(t *testing.T) {
	st := openTestStore(t)
	r := NewRegistry(st, llm.NewFakeRunner(), time.Hour)

	a, _, _ := r.GetOrCreateSession(context.Background(), "thread_a", "")
	b, _, _ := r.GetOrCreateSession(context.Background(), "thread_b", "")
	if a == b {
		t.Errorf("distinct threads share a session: %q", a)
	}
}

func TestGetOrCreateSession_TTLExpiryMintsNew(t *testing.T) {
	st := openTestStore(t)
	r := NewRegistry(st, llm.NewFakeRunner(), 10*time.Millisecond)

	first, _, err := r.GetOrCreateSession(context.Background(), "th", "")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	second, _, err := r.GetOrCreateSession(context.Background(), "th", "")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if first == second {
		t.Errorf("expired session %q was reused", first)
	}
}

// A fresh Registry over the same store must rehydrate from the durable
// thread_sessions row instead of minting a second session.
func TestGetOrCreateSession_RehydratesAfterRestart(t *testing.T) {
	st := openTestStore(t)
	runner := llm.NewFakeRunner()

	r1 := NewRegistry(st, runner, time.Hour)
	first, _, err := r1.GetOrCreateSession(context.Background(), "th", "")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}

	r2 := NewRegistry(st, runner, time.Hour)
	second, _, err := r2.GetOrCreateSession(context.Background(), "th", "")
	if err != nil {
		t.Fatalf("GetOrCreateSession after restart: %v", err)
	}
	if first != second {
		t.Errorf("restart minted a new session: %q then %q", first, second)
	}
}

func TestRotate(t *testing.T) {
	st := openTestStore(t)
	r := NewRegistry(st, llm.NewFakeRunner(), time.Hour)

	first, _, _ := r.GetOrCreateSession(context.Background(), "th", "")
	if err := r.Rotate(context.Background(), "th"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	second, _, _ := r.GetOrCreateSession(context.Background(), "th", "")
	if first == second {
		t.Errorf("Rotate did not mint a new session")
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup of unknown thread reported ok")
	}
}

func TestThreadIDKeys(t *testing.T) {
	if got := ThreadID("whatsapp", "+15550000"); got != "whatsapp_+15550000" {
		t.Errorf("ThreadID = %q", got)
	}
	if got := SubagentThreadID("01ABC"); got != "subagent_01ABC" {
		t.Errorf("SubagentThreadID = %q", got)
	}
	if got := CronThreadID("01DEF"); got != "cron_01DEF" {
		t.Errorf("CronThreadID = %q", got)
	}
}
