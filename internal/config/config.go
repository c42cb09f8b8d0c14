// Package config holds Fern's runtime configuration: a nested
// struct-of-structs populated with defaults, optionally overlaid from a
// JSON5 file on disk, and always overlaid from environment variables last.
package config

import (
	"sync"
)

// Config is the root configuration for the Fern agent host.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Model     ModelConfig     `json:"model"`
	Archival  ArchivalConfig  `json:"archival"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Subagent  SubagentConfig  `json:"subagent"`
	Watchdog  WatchdogConfig  `json:"watchdog"`
	Telemetry TelemetryConfig `json:"telemetry"`
	mu        sync.RWMutex
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	WebhookBaseURL      string `json:"webhook_base_url,omitempty"`
	GitHubDefaultBranch string `json:"github_default_branch,omitempty"`
	ChannelAuthToken    string `json:"-"` // env only, never persisted
	GitHubWebhookSecret string `json:"-"` // env only, never persisted
}

// StorageConfig configures where Fern's embedded database and chunk files live.
type StorageConfig struct {
	Path string `json:"path"`
}

// ModelConfig configures the upstream LLM black box and the embeddings endpoint.
type ModelConfig struct {
	Provider        string `json:"provider"`
	Name            string `json:"name"`
	ClientBaseURL   string `json:"client_base_url,omitempty"`
	OpenAIAPIKey    string `json:"-"` // env only, never persisted
	SecondaryAPIKey string `json:"-"` // env only, never persisted
}

// ArchivalConfig configures the conversation archival pipeline.
type ArchivalConfig struct {
	ChunkTokenThreshold int    `json:"chunk_token_threshold"`
	ChunkTokenMin       int    `json:"chunk_token_min"`
	ChunkTokenMax       int    `json:"chunk_token_max"`
	SummarisationModel  string `json:"summarisation_model"`
	MaxSummaryTokens    int    `json:"max_summary_tokens"`
	EmbeddingModel      string `json:"embedding_model"`
}

// RetrievalConfig configures auto-retrieval of memory into agent turns.
type RetrievalConfig struct {
	AutoMemoryEnabled      bool    `json:"auto_memory_enabled"`
	AutoMemoryTopK         int     `json:"auto_memory_top_k"`
	AutoMemoryMinRelevance float64 `json:"auto_memory_min_relevance"`
	AutoMemoryMaxChars     int     `json:"auto_memory_max_chars"`
	AutoMemoryThreadScoped bool    `json:"auto_memory_thread_scoped"`
}

// SchedulerConfig configures the durable job scheduler.
type SchedulerConfig struct {
	Enabled        bool   `json:"enabled"`
	PollIntervalMS int    `json:"poll_interval_ms"`
	MaxConcurrent  int    `json:"max_concurrent"`
	DefaultTZ      string `json:"default_tz"`
}

// SubagentConfig configures the sub-agent executor.
type SubagentConfig struct {
	Enabled       bool `json:"enabled"`
	MaxConcurrent int  `json:"max_concurrent"`
}

// WatchdogConfig configures failure thresholds that trigger shutdown.
type WatchdogConfig struct {
	MaxLLMFailures       int `json:"max_llm_failures"`
	MaxSchedulerFailures int `json:"max_scheduler_failures"`
	AgentTurnTimeoutMS   int `json:"agent_turn_timeout_ms"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
}

// Snapshot returns a copy of cfg safe to read without holding the lock
// further; callers that only need a handful of fields should prefer the
// narrower accessor methods below.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
