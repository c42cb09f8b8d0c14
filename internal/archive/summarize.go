package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/fern/internal/llm"
)

// placeholderSummary is the deterministic fallback used when the LLM call fails:
// archival must never be lost to a flaky summarisation call.
const placeholderSummary = "[Summary unavailable]"

// Summarizer reduces a contiguous run of messages to a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []llm.Message, maxTokens int) (string, error)
}

// LLMSummarizer drives a Runner through a throwaway session to produce a
// chunk summary: it never leaks that session back to the caller, and any
// failure is the observer's cue to fall back to the placeholder.
type LLMSummarizer struct {
	runner llm.Runner
}

// NewLLMSummarizer wraps runner.
func NewLLMSummarizer(runner llm.Runner) *LLMSummarizer {
	return &LLMSummarizer{runner: runner}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, messages []llm.Message, maxTokens int) (string, error) {
	sess, err := s.runner.CreateSession(ctx, "archive-summary")
	if err != nil {
		return "", fmt.Errorf("create summary session: %w", err)
	}

	if err := s.runner.SendPrompt(ctx, sess.SessionID, buildSummaryPrompt(messages, maxTokens)); err != nil {
		return "", fmt.Errorf("send summary prompt: %w", err)
	}

	events, err := s.runner.SubscribeEvents(ctx, sess.SessionID)
	if err != nil {
		return "", fmt.Errorf("subscribe summary events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return "", fmt.Errorf("summary session closed without an idle event")
			}
			switch ev.Kind {
			case llm.EventSessionIdle:
				return strings.TrimSpace(ev.SessionIdle.FinalText), nil
			case llm.EventSessionError:
				return "", fmt.Errorf("summary session error: %s", ev.SessionError.Error)
			}
		}
	}
}

// buildSummaryPrompt renders the chunk's text content into a single
// instruction asking for a summary bounded by maxTokens.
func buildSummaryPrompt(messages []llm.Message, maxTokens int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarise the following conversation in at most %d tokens. "+
		"Preserve decisions, commitments, and facts a later turn may need.\n\n", maxTokens)
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Type == "text" && p.Text != "" {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, p.Text)
			}
		}
	}
	return b.String()
}
