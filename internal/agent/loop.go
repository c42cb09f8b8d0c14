// Package agent implements the reasoning loop: the single path every
// inbound message, scheduled job, and sub-agent task drives a turn
// through. It owns no state of its own — session lookup, the LLM call,
// and the archival trigger are all delegated to their owning components.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/fern/internal/archive"
	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/search"
	"github.com/nextlevelbuilder/fern/internal/sessions"
	"github.com/nextlevelbuilder/fern/internal/tracing"
)

// Loop runs one prompt through to a final response, rehydrating or
// creating the thread's session, and asynchronously triggering archival
// once the turn settles.
type Loop struct {
	registry *sessions.Registry
	runner   llm.Runner
	archiver *archive.Observer
	tracer   *tracing.Recorder
	logger   *slog.Logger

	searchEng  *search.Engine // nil unless EnableAutoMemory was called
	autoMemory AutoMemoryOptions
}

// New builds a Loop. archiver and tracer may be nil (archival and tracing
// are both optional — a nil archiver skips the post-turn trigger, a nil
// tracer runs spanless).
func New(registry *sessions.Registry, runner llm.Runner, archiver *archive.Observer, tracer *tracing.Recorder, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{registry: registry, runner: runner, archiver: archiver, tracer: tracer, logger: logger}
}

// Execute runs one turn for threadID: get-or-create its session, send
// prompt, and drain events for the final text. On success it fires an
// archival pass for the thread in the background.
func (l *Loop) Execute(ctx context.Context, threadID, title, prompt string) (string, error) {
	sessionID, _, err := l.registry.GetOrCreateSession(ctx, threadID, title)
	if err != nil {
		return "", fmt.Errorf("get or create session: %w", err)
	}

	prompt = l.augmentPrompt(ctx, threadID, prompt)

	spanCtx := ctx
	var end func(error)
	if l.tracer != nil {
		spanCtx, end = l.tracer.StartSpan(ctx, "llm_call", "agent.turn")
	}

	finalText, turnErr := l.runTurn(spanCtx, sessionID, prompt)

	if end != nil {
		end(turnErr)
	}
	if turnErr != nil {
		return "", turnErr
	}

	if l.archiver != nil {
		l.archiver.Trigger(context.Background(), threadID, sessionID)
	}
	return finalText, nil
}

func (l *Loop) runTurn(ctx context.Context, sessionID, prompt string) (string, error) {
	if err := l.runner.SendPrompt(ctx, sessionID, prompt); err != nil {
		return "", fmt.Errorf("send prompt: %w", err)
	}

	events, err := l.runner.SubscribeEvents(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("subscribe events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return "", fmt.Errorf("session closed without an idle event")
			}
			switch ev.Kind {
			case llm.EventSessionIdle:
				return ev.SessionIdle.FinalText, nil
			case llm.EventSessionError:
				return "", fmt.Errorf("session error: %s", ev.SessionError.Error)
			}
		}
	}
}
