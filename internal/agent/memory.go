package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/fern/internal/search"
)

// AutoMemoryOptions tunes the automatic memory retrieval that runs before
// each turn when enabled via EnableAutoMemory.
type AutoMemoryOptions struct {
	TopK         int     // AUTO_MEMORY_TOP_K, capped at 10
	MinRelevance float64 // AUTO_MEMORY_MIN_RELEVANCE
	MaxChars     int     // AUTO_MEMORY_MAX_CHARS, total budget for injected context
	ThreadScoped bool    // AUTO_MEMORY_THREAD_SCOPED limits archive hits to the current thread
}

// EnableAutoMemory turns on pre-turn retrieval: before each prompt is sent,
// the hybrid search engine is queried with the prompt text and any hits are
// prepended as a context block. Retrieval failures are logged and the turn
// proceeds with the bare prompt.
func (l *Loop) EnableAutoMemory(engine *search.Engine, opts AutoMemoryOptions) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.TopK > 10 {
		opts.TopK = 10
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 4000
	}
	l.searchEng = engine
	l.autoMemory = opts
}

// augmentPrompt retrieves relevant memory for prompt and, when anything
// scores above the floor, prepends it as a bracketed context block the
// model can draw on.
func (l *Loop) augmentPrompt(ctx context.Context, threadID, prompt string) string {
	if l.searchEng == nil {
		return prompt
	}

	searchOpts := search.Options{Limit: l.autoMemory.TopK, MinScore: l.autoMemory.MinRelevance}
	if l.autoMemory.ThreadScoped {
		searchOpts.ThreadID = threadID
	}
	results, err := l.searchEng.SearchMemory(ctx, prompt, searchOpts)
	if err != nil {
		l.logger.Warn("auto-memory retrieval failed", "thread_id", threadID, "error", err)
		return prompt
	}
	if len(results) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString("[Relevant memory]\n")
	used := b.Len()
	for _, r := range results {
		line := fmt.Sprintf("- (%s) %s\n", r.Source, r.Text)
		if used+len(line) > l.autoMemory.MaxChars {
			break
		}
		b.WriteString(line)
		used += len(line)
	}
	if b.Len() == len("[Relevant memory]\n") {
		return prompt
	}
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}
