package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/fern/internal/agent"
	"github.com/nextlevelbuilder/fern/internal/archive"
	"github.com/nextlevelbuilder/fern/internal/bus"
	"github.com/nextlevelbuilder/fern/internal/channels"
	"github.com/nextlevelbuilder/fern/internal/config"
	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/gateway"
	"github.com/nextlevelbuilder/fern/internal/llm"
	"github.com/nextlevelbuilder/fern/internal/memory"
	"github.com/nextlevelbuilder/fern/internal/scheduler"
	"github.com/nextlevelbuilder/fern/internal/search"
	"github.com/nextlevelbuilder/fern/internal/sessions"
	"github.com/nextlevelbuilder/fern/internal/store"
	"github.com/nextlevelbuilder/fern/internal/subagent"
	"github.com/nextlevelbuilder/fern/internal/tracing"
	"github.com/nextlevelbuilder/fern/internal/watchdog"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, scheduler, sub-agent executor, and watchdog",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
	logger := slog.Default()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		def := config.Default()
		watchdog.New(watchdog.Config{
			MaxLLMFailures:       def.Watchdog.MaxLLMFailures,
			MaxSchedulerFailures: def.Watchdog.MaxSchedulerFailures,
			StatePath:            filepath.Join(os.TempDir(), "fern-watchdog-state"),
		}, nil, logger).RecordLLMFailure("failed to load config")
		os.Exit(1)
	}

	watchdogPath := filepath.Join(os.TempDir(), "fern-watchdog-state")

	// fatalStartup increments the persisted LLM counter before exiting so
	// a crash loop during boot still trips the watchdog threshold.
	fatalStartup := func(msg string, err error) {
		logger.Error(msg, "error", err)
		dog := watchdog.New(watchdog.Config{
			MaxLLMFailures:       cfg.Watchdog.MaxLLMFailures,
			MaxSchedulerFailures: cfg.Watchdog.MaxSchedulerFailures,
			StatePath:            watchdogPath,
		}, nil, logger)
		dog.RecordLLMFailure(msg)
		os.Exit(1)
	}

	storageDir := cfg.StoragePath()
	st, err := store.Open(storageDir, store.WithLogger(logger.With("component", "store")))
	if err != nil {
		fatalStartup("failed to open store", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.Init(rootCtx); err != nil {
		fatalStartup("failed to init store schema", err)
	}

	tracer, err := tracing.New(rootCtx, "fern", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		tracer, _ = tracing.New(rootCtx, "fern", "")
	}

	var embedder embeddings.Embedder = embeddings.NoopEmbedder{}
	if cfg.Model.OpenAIAPIKey != "" {
		embedder = embeddings.NewHTTPEmbedder("", cfg.Model.OpenAIAPIKey, cfg.Archival.EmbeddingModel)
	} else {
		logger.Warn("no embeddings API key configured, search runs FTS-only")
	}

	// One-time legacy summary import; a missing file is a no-op.
	legacyPath := filepath.Join(storageDir, "summaries.jsonl")
	if n, err := st.ImportLegacySummaries(rootCtx, legacyPath, embedder.EmbedBatch); err != nil {
		logger.Warn("legacy summary import failed", "error", err)
	} else if n > 0 {
		logger.Info("imported legacy summaries", "count", n)
	}

	runner := llm.NewRemoteRunner(cfg.Model.ClientBaseURL, cfg.Model.Name)
	registry := sessions.NewRegistry(st, runner, time.Hour, sessions.WithLogger(logger.With("component", "sessions")))

	chunkDir := filepath.Join(storageDir, "chunks")
	archCfg := archive.Config{
		ChunkTokenThreshold: cfg.Archival.ChunkTokenThreshold,
		ChunkTokenMin:       cfg.Archival.ChunkTokenMin,
		ChunkTokenMax:       cfg.Archival.ChunkTokenMax,
		MaxSummaryTokens:    cfg.Archival.MaxSummaryTokens,
	}
	observer := archive.New(st, runner, embedder, chunkDir, archCfg, logger.With("component", "archive"))

	loop := agent.New(registry, runner, observer, tracer, logger.With("component", "agent"))
	engine := search.New(st, embedder)
	if cfg.Retrieval.AutoMemoryEnabled {
		loop.EnableAutoMemory(engine, agent.AutoMemoryOptions{
			TopK:         cfg.Retrieval.AutoMemoryTopK,
			MinRelevance: cfg.Retrieval.AutoMemoryMinRelevance,
			MaxChars:     cfg.Retrieval.AutoMemoryMaxChars,
			ThreadScoped: cfg.Retrieval.AutoMemoryThreadScoped,
		})
	}

	dog := watchdog.New(watchdog.Config{
		MaxLLMFailures:       cfg.Watchdog.MaxLLMFailures,
		MaxSchedulerFailures: cfg.Watchdog.MaxSchedulerFailures,
		StatePath:            watchdogPath,
	}, func(reason string) {
		logger.Error("watchdog tripped, shutting down", "reason", reason)
		cancel()
	}, logger.With("component", "watchdog"))

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		schedCfg := scheduler.DefaultConfig()
		schedCfg.PollInterval = time.Duration(cfg.Scheduler.PollIntervalMS) * time.Millisecond
		schedCfg.MaxConcurrent = cfg.Scheduler.MaxConcurrent
		if cfg.Scheduler.DefaultTZ != "" {
			schedCfg.DefaultTZ = cfg.Scheduler.DefaultTZ
		}
		schedCfg.DispatchRate = rate.Limit(2)
		sched = scheduler.New(st, loop, schedCfg, logger.With("component", "scheduler"))
		if err := sched.Start(rootCtx); err != nil {
			fatalStartup("failed to start scheduler", err)
		}
	}

	var executor *subagent.Executor
	if cfg.Subagent.Enabled {
		execCfg := subagent.DefaultConfig()
		execCfg.MaxConcurrent = cfg.Subagent.MaxConcurrent
		executor = subagent.New(st, loop, execCfg, logger.With("component", "subagent"))
		if err := executor.Start(rootCtx); err != nil {
			fatalStartup("failed to start subagent executor", err)
		}
	}

	msgBus := bus.NewMessageBus(256)
	srv := gateway.NewServer(cfg, gateway.Deps{
		Loop:      loop,
		Registry:  registry,
		Store:     st,
		Runner:    runner,
		SearchEng: engine,
		Memories:  memory.New(st, embedder, engine),
		Channels:  channels.NewRegistry(),
		Filter:    channels.NewBotFilter(nil, true),
		Bus:       msgBus,
		Watchdog:  dog,
		ChunkDir:  chunkDir,
	}, logger.With("component", "gateway"))

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(rootCtx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("graceful shutdown initiated", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("gateway exited", "error", err)
		}
	case <-rootCtx.Done():
		// watchdog-triggered shutdown
	}

	cancel()
	if sched != nil {
		sched.Stop()
	}
	if executor != nil {
		executor.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logger.Warn("store close failed", "error", err)
	}
	logger.Info("shutdown complete")
}
