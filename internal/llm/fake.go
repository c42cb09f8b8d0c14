package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeRunner is an in-memory Runner used by other components' tests so
// they can exercise turn-taking logic without a real LLM client.
type FakeRunner struct {
	mu       sync.Mutex
	sessions map[string][]Message
	nextID   int

	// Response, when set, is appended as the assistant reply to every
	// SendPrompt call. Fail, when true, makes SendPrompt return an error.
	Response string
	Fail     bool
}

// NewFakeRunner constructs an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{sessions: make(map[string][]Message)}
}

func (f *FakeRunner) CreateSession(ctx context.Context, title string) (CreateSessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake_session_%d", f.nextID)
	f.sessions[id] = nil
	return CreateSessionResult{SessionID: id}, nil
}

func (f *FakeRunner) SendPrompt(ctx context.Context, sessionID, prompt string) error {
	if f.Fail {
		return fmt.Errorf("fake runner: simulated failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UnixMilli()
	f.sessions[sessionID] = append(f.sessions[sessionID],
		Message{ID: fmt.Sprintf("m_%d", len(f.sessions[sessionID])), SessionID: sessionID, Role: "user", Time: now, Parts: []Part{{Type: "text", Text: prompt}}},
		Message{ID: fmt.Sprintf("m_%d", len(f.sessions[sessionID])+1), SessionID: sessionID, Role: "assistant", Time: now, Parts: []Part{{Type: "text", Text: f.Response}}},
	)
	return nil
}

func (f *FakeRunner) SubscribeEvents(ctx context.Context, sessionID string) (<-chan Event, error) {
	ch := make(chan Event, 1)
	ch <- Event{Kind: EventSessionIdle, SessionIdle: &SessionIdleEvent{FinalText: f.Response}}
	close(ch)
	return ch, nil
}

func (f *FakeRunner) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sessions[sessionID]...), nil
}

func (f *FakeRunner) ListTools(ctx context.Context) ([]Tool, error) {
	return nil, nil
}

var _ Runner = (*FakeRunner)(nil)
