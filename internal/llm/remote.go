package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteRunner drives the upstream LLM client over its HTTP API: sessions
// are created with a POST, prompts are sent with a POST, and per-session
// events arrive as an SSE stream. Fern treats the upstream as a black box,
// so this adapter only maps its wire shapes onto the Runner interface and
// never interprets message content.
type RemoteRunner struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewRemoteRunner builds a RemoteRunner against baseURL (no trailing slash)
// using model for new sessions.
func NewRemoteRunner(baseURL, model string) *RemoteRunner {
	return &RemoteRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 0}, // streams are long-lived; turn timeouts come from ctx
	}
}

type remoteSessionResponse struct {
	ID       string `json:"id"`
	ShareURL string `json:"share_url"`
}

func (r *RemoteRunner) CreateSession(ctx context.Context, title string) (CreateSessionResult, error) {
	body, _ := json.Marshal(map[string]string{"title": title, "model": r.model})
	var out remoteSessionResponse
	if err := r.postJSON(ctx, "/session", body, &out); err != nil {
		return CreateSessionResult{}, fmt.Errorf("create session: %w", err)
	}
	return CreateSessionResult{SessionID: out.ID, ShareURL: out.ShareURL}, nil
}

func (r *RemoteRunner) SendPrompt(ctx context.Context, sessionID, prompt string) error {
	body, _ := json.Marshal(map[string]string{"text": prompt})
	if err := r.postJSON(ctx, "/session/"+sessionID+"/prompt", body, nil); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	return nil
}

// remoteEvent is the upstream's untyped event bag; exactly which fields are
// set depends on type. SubscribeEvents converts it to the tagged Event union.
type remoteEvent struct {
	Type      string          `json:"type"`
	Tool      string          `json:"tool,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	Text      string          `json:"text,omitempty"`
	Error     string          `json:"error,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	FinalText string          `json:"final_text,omitempty"`
}

func (r *RemoteRunner) SubscribeEvents(ctx context.Context, sessionID string) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", r.baseURL+"/session/"+sessionID+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("subscribe events: status %d", resp.StatusCode)
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var raw remoteEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &raw); err != nil {
				continue
			}
			ev, ok := convertRemoteEvent(raw)
			if !ok {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Kind == EventSessionIdle || ev.Kind == EventSessionError {
				return
			}
		}
	}()
	return ch, nil
}

func convertRemoteEvent(raw remoteEvent) (Event, bool) {
	switch raw.Type {
	case "tool_start":
		return Event{Kind: EventToolStart, ToolStart: &ToolStartEvent{Tool: raw.Tool}}, true
	case "tool_complete":
		var out interface{}
		_ = json.Unmarshal(raw.Output, &out)
		return Event{Kind: EventToolComplete, ToolComplete: &ToolCompleteEvent{Tool: raw.Tool, Output: out}}, true
	case "tool_error":
		return Event{Kind: EventToolError, ToolError: &ToolErrorEvent{Tool: raw.Tool, Error: raw.Error}}, true
	case "text":
		return Event{Kind: EventText, Text: &TextEvent{Delta: raw.Delta}}, true
	case "thinking":
		return Event{Kind: EventThinking, Thinking: &ThinkingEvent{Delta: raw.Delta}}, true
	case "session_idle":
		final := raw.FinalText
		if final == "" {
			final = raw.Text
		}
		return Event{Kind: EventSessionIdle, SessionIdle: &SessionIdleEvent{FinalText: final}}, true
	case "session_error":
		return Event{Kind: EventSessionError, SessionError: &SessionErrorEvent{Error: raw.Error}}, true
	}
	return Event{}, false
}

type remoteMessage struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Time  int64  `json:"time"`
	Parts []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
		Tool *struct {
			Tool  string `json:"tool"`
			State struct {
				Status string      `json:"status"`
				Input  interface{} `json:"input,omitempty"`
				Output interface{} `json:"output,omitempty"`
				Error  string      `json:"error,omitempty"`
				Time   struct {
					Start int64 `json:"start"`
					End   int64 `json:"end,omitempty"`
				} `json:"time"`
			} `json:"state"`
		} `json:"tool,omitempty"`
	} `json:"parts"`
	Tokens *struct {
		Input     int `json:"input"`
		Output    int `json:"output"`
		Reasoning int `json:"reasoning"`
	} `json:"tokens,omitempty"`
}

func (r *RemoteRunner) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var out struct {
		Messages []remoteMessage `json:"messages"`
	}
	if err := r.getJSON(ctx, "/session/"+sessionID+"/messages", &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, rm := range out.Messages {
		m := Message{ID: rm.ID, SessionID: sessionID, Role: rm.Role, Time: rm.Time}
		if rm.Tokens != nil {
			m.Tokens = &TokenUsage{Input: rm.Tokens.Input, Output: rm.Tokens.Output, Reasoning: rm.Tokens.Reasoning}
		}
		for _, rp := range rm.Parts {
			p := Part{Type: rp.Type, Text: rp.Text}
			if rp.Tool != nil {
				p.Tool = &ToolCallState{
					Tool:   rp.Tool.Tool,
					Status: rp.Tool.State.Status,
					Input:  rp.Tool.State.Input,
					Output: rp.Tool.State.Output,
					Error:  rp.Tool.State.Error,
					Start:  rp.Tool.State.Time.Start,
					End:    rp.Tool.State.Time.End,
				}
			}
			m.Parts = append(m.Parts, p)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (r *RemoteRunner) ListTools(ctx context.Context) ([]Tool, error) {
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := r.getJSON(ctx, "/tools", &out); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return out.Tools, nil
}

func (r *RemoteRunner) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r *RemoteRunner) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", r.baseURL+path, nil)
	if err != nil {
		return err
	}
	return r.do(req, out)
}

func (r *RemoteRunner) do(req *http.Request, out interface{}) error {
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Runner = (*RemoteRunner)(nil)
