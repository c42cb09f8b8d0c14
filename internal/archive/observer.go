package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/store"
	"github.com/nextlevelbuilder/fern/internal/tokenizer"
)

// Config holds the chunking bounds and summarisation knobs, named
// after the env vars documented in the persisted-layout section.
type Config struct {
	ChunkTokenThreshold int // CHUNK_TOKEN_THRESHOLD, default 25000
	ChunkTokenMin       int // CHUNK_TOKEN_MIN, default 15000
	ChunkTokenMax       int // CHUNK_TOKEN_MAX, default 40000
	MaxSummaryTokens    int // MAX_SUMMARY_TOKENS
}

// DefaultConfig returns the archival pipeline's documented defaults.
func DefaultConfig() Config {
	return Config{ChunkTokenThreshold: 25000, ChunkTokenMin: 15000, ChunkTokenMax: 40000, MaxSummaryTokens: 500}
}

// Observer runs the watermark-driven archival pipeline for every thread. At
// most one archival run is ever in flight per thread; a Trigger that lands
// while its thread is already running is dropped, not queued. Messages sent
// meanwhile are archived by a later Trigger, since every run starts from
// the thread's watermark.
type Observer struct {
	store      *store.Store
	runner     llm.Runner
	embedder   embeddings.Embedder
	summarizer Summarizer
	cfg        Config
	chunkDir   string
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New builds an Observer. chunkDir is the root under which
// <threadId>/<chunkId>.json chunk files and <threadId>/watermark.json
// mirrors are written.
func New(st *store.Store, runner llm.Runner, embedder embeddings.Embedder, chunkDir string, cfg Config, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		store: st, runner: runner, embedder: embedder,
		summarizer: NewLLMSummarizer(runner),
		cfg:        cfg, chunkDir: chunkDir, logger: logger,
		running: make(map[string]bool),
	}
}

// Trigger fires an archival pass for threadID/sessionID in the background,
// skipping the call entirely if a pass for that thread is already running.
// A panic inside the pass is recovered and logged.
func (o *Observer) Trigger(ctx context.Context, threadID, sessionID string) {
	o.mu.Lock()
	if o.running[threadID] {
		o.mu.Unlock()
		return
	}
	o.running[threadID] = true
	o.mu.Unlock()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				o.logger.Error("archival run panicked", "thread_id", threadID, "panic", rec)
			}
			o.mu.Lock()
			delete(o.running, threadID)
			o.mu.Unlock()
		}()
		if err := o.Run(ctx, threadID, sessionID); err != nil {
			o.logger.Error("archival run failed", "thread_id", threadID, "error", err)
		}
	}()
}

// Run executes one synchronous archival pass for a thread, archiving at
// most one chunk. Callers that want to drain a long backlog call it
// repeatedly. Run has no "did work" return: it returns nil both for an idle
// pass and for a pass that archived a chunk, and logs neither.
func (o *Observer) Run(ctx context.Context, threadID, sessionID string) error {
	messages, err := o.runner.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	wm, err := o.store.GetWatermark(ctx, threadID)
	if err != nil {
		return fmt.Errorf("get watermark: %w", err)
	}

	start := 0
	totalTokens, totalChunks := 0, 0
	if wm != nil {
		totalTokens, totalChunks = wm.TotalArchivedTokens, wm.TotalChunks
		if wm.SessionID == "" || wm.SessionID != sessionID {
			o.logger.Info("session rollover detected, resetting watermark", "thread_id", threadID)
			start = 0
		} else {
			start = wm.LastArchivedIndex + 1
		}
	}

	if start >= len(messages) {
		return nil
	}
	suffix := messages[start:]

	if tokenizer.EstimateMessages(convertMessages(suffix)) < o.cfg.ChunkTokenThreshold {
		return nil
	}

	chunkMsgs, chunkTokens := buildChunk(suffix, o.cfg.ChunkTokenMax)
	if chunkTokens < o.cfg.ChunkTokenMin && len(chunkMsgs) < len(suffix) {
		return nil
	}

	summary, err := o.summarizer.Summarize(ctx, chunkMsgs, o.cfg.MaxSummaryTokens)
	if err != nil {
		o.logger.Warn("summarisation failed, using placeholder", "thread_id", threadID, "error", err)
		summary = placeholderSummary
	}

	chunk := Chunk{
		ID:           "chunk_" + ulid.Make().String(),
		ThreadID:     threadID,
		SessionID:    sessionID,
		Summary:      summary,
		Messages:     chunkMsgs,
		TokenCount:   chunkTokens,
		MessageCount: len(chunkMsgs),
		MessageRange: messageRange(chunkMsgs),
		CreatedAt:    time.Now(),
	}

	if err := o.writeChunkFile(chunk); err != nil {
		return fmt.Errorf("write chunk file: %w", err)
	}

	vec, err := o.embedder.Embed(ctx, summary)
	if err != nil {
		vec = nil
	}

	row := store.SummaryRow{
		ID: chunk.ID, ThreadID: threadID, SessionID: sessionID, Summary: summary,
		TokenCount: chunkTokens, MessageCount: len(chunkMsgs),
		FirstMessageID: chunk.MessageRange.FirstID, LastMessageID: chunk.MessageRange.LastID,
		FirstTS: chunk.MessageRange.FirstTS, LastTS: chunk.MessageRange.LastTS,
		Embedding: vec, CreatedAt: chunk.CreatedAt,
	}
	if err := o.store.InsertSummary(ctx, row); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	newWM := store.Watermark{
		ThreadID:              threadID,
		LastArchivedIndex:     start + len(chunkMsgs) - 1,
		LastArchivedMessageID: chunk.MessageRange.LastID,
		TotalArchivedTokens:   totalTokens + chunkTokens,
		TotalChunks:           totalChunks + 1,
		LastArchivedAt:        chunk.CreatedAt,
		SessionID:             sessionID,
	}
	if err := o.store.SaveWatermark(ctx, newWM); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	// The DB row above is the atomic source of truth; this file mirror
	// exists only to honour the documented on-disk layout and is
	// best-effort — a failure here must not undo an already-committed
	// watermark advance.
	if err := o.writeWatermarkFile(newWM); err != nil {
		o.logger.Warn("failed to mirror watermark file", "thread_id", threadID, "error", err)
	}

	return nil
}

// buildChunk greedily admits messages until the next one would push the
// cumulative token count over max. The first message is
// always admitted even if it alone exceeds max.
func buildChunk(suffix []llm.Message, maxTokens int) ([]llm.Message, int) {
	var chunk []llm.Message
	total := 0
	for _, m := range suffix {
		mt := tokenizer.Estimate(convertMessage(m))
		if len(chunk) == 0 {
			chunk = append(chunk, m)
			total += mt
			continue
		}
		if total+mt > maxTokens {
			break
		}
		chunk = append(chunk, m)
		total += mt
	}
	return chunk, total
}

func messageRange(msgs []llm.Message) MessageRange {
	if len(msgs) == 0 {
		return MessageRange{}
	}
	first, last := msgs[0], msgs[len(msgs)-1]
	return MessageRange{FirstID: first.ID, LastID: last.ID, FirstTS: first.Time, LastTS: last.Time}
}

func convertMessage(m llm.Message) tokenizer.Message {
	parts := make([]tokenizer.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		tp := tokenizer.Part{Type: p.Type, Text: p.Text}
		if p.Tool != nil {
			tp.Tool = &tokenizer.ToolPart{Input: p.Tool.Input, Output: p.Tool.Output}
		}
		parts = append(parts, tp)
	}
	var tokens *tokenizer.TokenUsage
	if m.Tokens != nil {
		tokens = &tokenizer.TokenUsage{Input: m.Tokens.Input, Output: m.Tokens.Output, Reasoning: m.Tokens.Reasoning}
	}
	return tokenizer.Message{Parts: parts, Tokens: tokens}
}

func convertMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = convertMessage(m)
	}
	return out
}

func (o *Observer) writeChunkFile(c Chunk) error {
	dir := filepath.Join(o.chunkDir, c.ThreadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, c.ID+".json"), b, 0644)
}

func (o *Observer) writeWatermarkFile(wm store.Watermark) error {
	dir := filepath.Join(o.chunkDir, wm.ThreadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(wm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "watermark.json"), b, 0644)
}
