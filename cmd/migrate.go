package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/fern/internal/config"
	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			storageDir := cfg.StoragePath()
			st, err := store.Open(storageDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := context.Background()
			if err := st.Init(ctx); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}
			slog.Info("schema up to date", "path", filepath.Join(storageDir, "fern.db"))

			// One-time import of the legacy JSONL summary export, if one
			// is still sitting in the storage directory.
			var embedder embeddings.Embedder = embeddings.NoopEmbedder{}
			if cfg.Model.OpenAIAPIKey != "" {
				embedder = embeddings.NewHTTPEmbedder("", cfg.Model.OpenAIAPIKey, cfg.Archival.EmbeddingModel)
			}
			legacyPath := filepath.Join(storageDir, "summaries.jsonl")
			if _, err := os.Stat(legacyPath); err == nil {
				n, err := st.ImportLegacySummaries(ctx, legacyPath, embedder.EmbedBatch)
				if err != nil {
					return fmt.Errorf("import legacy summaries: %w", err)
				}
				slog.Info("legacy summaries imported", "count", n)
			}
			return nil
		},
	}
}
