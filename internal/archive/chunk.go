// Package archive implements Fern's conversation archival pipeline:
// watermark-driven chunking, summarisation, embedding, and index insertion
// over a session's message history.
package archive

import (
	"time"

	"github.com/nextlevelbuilder/fern/internal/llm"
)

// MessageRange identifies the first/last message a chunk spans.
type MessageRange struct {
	FirstID string
	LastID  string
	FirstTS int64
	LastTS  int64
}

// Chunk is a contiguous, archived slice of a session's messages. The full
// message bodies are written to a content-addressed file on disk; only the
// summary and its embedding are indexed in the store.
type Chunk struct {
	ID           string
	ThreadID     string
	SessionID    string
	Summary      string
	Messages     []llm.Message
	TokenCount   int
	MessageCount int
	MessageRange MessageRange
	CreatedAt    time.Time
}
