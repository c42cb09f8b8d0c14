// Package watchdog detects crash loops. A scheduler-failure counter lives
// only in memory (a single process's scheduler misbehaving doesn't need to
// survive a restart); an LLM-failure counter is mirrored to disk so that a
// crash-restart-crash loop against the model provider is still caught.
package watchdog

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// OnShutdown is invoked at most once, the first time either counter trips
// its threshold. It is responsible for stopping background loops, closing
// the DB, and exiting the process — the watchdog itself does none of that.
type OnShutdown func(reason string)

// Config holds the failure thresholds.
type Config struct {
	MaxLLMFailures       int // default 5
	MaxSchedulerFailures int // default 10
	StatePath            string
}

// DefaultConfig returns the documented failure thresholds.
func DefaultConfig(statePath string) Config {
	return Config{MaxLLMFailures: 5, MaxSchedulerFailures: 10, StatePath: statePath}
}

type diskState struct {
	LLMFailures int `json:"llm_failures"`
}

// Watchdog tracks both counters and fires onShutdown the first time either
// crosses its threshold.
type Watchdog struct {
	mu                sync.Mutex
	schedulerFailures int
	llmFailures       int
	tripped           bool

	cfg        Config
	onShutdown OnShutdown
	logger     *slog.Logger
}

// New builds a Watchdog, loading any persisted LLM-failure count from
// cfg.StatePath (a missing or unreadable file is treated as zero).
func New(cfg Config, onShutdown OnShutdown, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watchdog{cfg: cfg, onShutdown: onShutdown, logger: logger}
	w.llmFailures = w.loadDiskState()
	return w
}

func (w *Watchdog) loadDiskState() int {
	if w.cfg.StatePath == "" {
		return 0
	}
	b, err := os.ReadFile(w.cfg.StatePath)
	if err != nil {
		return 0
	}
	var s diskState
	if err := json.Unmarshal(b, &s); err != nil {
		return 0
	}
	return s.LLMFailures
}

// persistLocked rewrites the whole state file. Callers must hold w.mu.
func (w *Watchdog) persistLocked() {
	if w.cfg.StatePath == "" {
		return
	}
	b, err := json.Marshal(diskState{LLMFailures: w.llmFailures})
	if err != nil {
		return
	}
	if err := os.WriteFile(w.cfg.StatePath, b, 0600); err != nil {
		w.logger.Warn("watchdog: failed to persist state", "error", err)
	}
}

// RecordSchedulerFailure increments the in-memory scheduler counter and
// reports whether it just crossed the threshold.
func (w *Watchdog) RecordSchedulerFailure(reason string) bool {
	w.mu.Lock()
	w.schedulerFailures++
	tripped := w.schedulerFailures >= w.cfg.MaxSchedulerFailures
	w.mu.Unlock()
	if tripped {
		w.trip(reason)
	}
	return tripped
}

// ResetSchedulerFailures zeroes the scheduler counter.
func (w *Watchdog) ResetSchedulerFailures() {
	w.mu.Lock()
	w.schedulerFailures = 0
	w.mu.Unlock()
}

// RecordLLMFailure increments the disk-persisted LLM counter and reports
// whether it just crossed the threshold.
func (w *Watchdog) RecordLLMFailure(reason string) bool {
	w.mu.Lock()
	w.llmFailures++
	w.persistLocked()
	tripped := w.llmFailures >= w.cfg.MaxLLMFailures
	w.mu.Unlock()
	if tripped {
		w.trip(reason)
	}
	return tripped
}

// ResetLLMFailures zeroes the LLM counter, in memory and on disk.
func (w *Watchdog) ResetLLMFailures() {
	w.mu.Lock()
	w.llmFailures = 0
	w.persistLocked()
	w.mu.Unlock()
}

func (w *Watchdog) trip(reason string) {
	w.mu.Lock()
	alreadyTripped := w.tripped
	w.tripped = true
	w.mu.Unlock()
	if alreadyTripped {
		return
	}
	w.logger.Error("watchdog threshold crossed, shutting down", "reason", reason)
	if w.onShutdown != nil {
		w.onShutdown(reason)
	}
}
