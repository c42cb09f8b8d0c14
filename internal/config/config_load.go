package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults, matching the
// environment configuration table.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			GitHubDefaultBranch: "main",
		},
		Storage: StorageConfig{
			Path: "~/.fern",
		},
		Model: ModelConfig{
			Provider:      "anthropic",
			Name:          "claude-sonnet-4-5-20250929",
			ClientBaseURL: "http://127.0.0.1:4096",
		},
		Archival: ArchivalConfig{
			ChunkTokenThreshold: 25000,
			ChunkTokenMin:       15000,
			ChunkTokenMax:       40000,
			SummarisationModel:  "gpt-4o-mini",
			MaxSummaryTokens:    500,
			EmbeddingModel:      "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			AutoMemoryEnabled:      true,
			AutoMemoryTopK:         5,
			AutoMemoryMinRelevance: 0.05,
			AutoMemoryMaxChars:     4000,
			AutoMemoryThreadScoped: false,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			PollIntervalMS: 60000,
			MaxConcurrent:  3,
			DefaultTZ:      "",
		},
		Subagent: SubagentConfig{
			Enabled:       true,
			MaxConcurrent: 3,
		},
		Watchdog: WatchdogConfig{
			MaxLLMFailures:       5,
			MaxSchedulerFailures: 10,
			AgentTurnTimeoutMS:   8 * 60 * 1000,
		},
	}
}

// Load reads config from a JSON5 file (if present), then overlays env vars.
// A missing file is not an error: callers get defaults plus env overrides.
// .env is loaded best-effort before anything else so a developer's local
// secrets are visible to os.Getenv below.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays environment variables onto the config. Env
// vars always win over file values; deployment environments override
// whatever a checked-in config file says.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("HOST", &c.Server.Host)
	envInt("PORT", &c.Server.Port)
	envStr("WEBHOOK_BASE_URL", &c.Server.WebhookBaseURL)
	envStr("GITHUB_DEFAULT_BRANCH", &c.Server.GitHubDefaultBranch)
	envStr("CHANNEL_AUTH_TOKEN", &c.Server.ChannelAuthToken)
	envStr("GITHUB_WEBHOOK_SECRET", &c.Server.GitHubWebhookSecret)

	envStr("STORAGE_PATH", &c.Storage.Path)

	envStr("MODEL_PROVIDER", &c.Model.Provider)
	envStr("MODEL_NAME", &c.Model.Name)
	envStr("LLM_CLIENT_BASE_URL", &c.Model.ClientBaseURL)
	envStr("OPENAI_API_KEY", &c.Model.OpenAIAPIKey)
	envStr("SECONDARY_PROVIDER_API_KEY", &c.Model.SecondaryAPIKey)

	envInt("CHUNK_TOKEN_THRESHOLD", &c.Archival.ChunkTokenThreshold)
	envInt("CHUNK_TOKEN_MIN", &c.Archival.ChunkTokenMin)
	envInt("CHUNK_TOKEN_MAX", &c.Archival.ChunkTokenMax)
	envStr("SUMMARISATION_MODEL", &c.Archival.SummarisationModel)
	envInt("MAX_SUMMARY_TOKENS", &c.Archival.MaxSummaryTokens)
	envStr("EMBEDDING_MODEL", &c.Archival.EmbeddingModel)

	envBool("AUTO_MEMORY_ENABLED", &c.Retrieval.AutoMemoryEnabled)
	envInt("AUTO_MEMORY_TOP_K", &c.Retrieval.AutoMemoryTopK)
	envFloat("AUTO_MEMORY_MIN_RELEVANCE", &c.Retrieval.AutoMemoryMinRelevance)
	envInt("AUTO_MEMORY_MAX_CHARS", &c.Retrieval.AutoMemoryMaxChars)
	envBool("AUTO_MEMORY_THREAD_SCOPED", &c.Retrieval.AutoMemoryThreadScoped)

	envBool("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	envInt("SCHEDULER_POLL_INTERVAL_MS", &c.Scheduler.PollIntervalMS)
	envInt("SCHEDULER_MAX_CONCURRENT", &c.Scheduler.MaxConcurrent)
	envStr("SCHEDULER_DEFAULT_TZ", &c.Scheduler.DefaultTZ)

	envBool("SUBAGENT_ENABLED", &c.Subagent.Enabled)
	envInt("SUBAGENT_MAX_CONCURRENT", &c.Subagent.MaxConcurrent)

	envInt("WATCHDOG_MAX_LLM_FAILURES", &c.Watchdog.MaxLLMFailures)
	envInt("WATCHDOG_MAX_SCHEDULER_FAILURES", &c.Watchdog.MaxSchedulerFailures)
	envInt("AGENT_TURN_TIMEOUT_MS", &c.Watchdog.AgentTurnTimeoutMS)

	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config for optimistic concurrency
// on the dashboard's config editor.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// StoragePath returns the expanded, tilde-resolved storage directory.
func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Storage.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
