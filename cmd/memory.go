package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/fern/internal/config"
	"github.com/nextlevelbuilder/fern/internal/embeddings"
	"github.com/nextlevelbuilder/fern/internal/memory"
	"github.com/nextlevelbuilder/fern/internal/search"
	"github.com/nextlevelbuilder/fern/internal/store"
)

// openMemoryStore wires up the persistent memory store against the
// configured database. Without an OpenAI key it runs FTS-only; with one,
// memories and queries are embedded through the HTTP embedder.
func openMemoryStore() (*memory.Store, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.StoragePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Init(context.Background()); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("init schema: %w", err)
	}
	var embedder embeddings.Embedder = embeddings.NoopEmbedder{}
	if cfg.Model.OpenAIAPIKey != "" {
		embedder = embeddings.NewHTTPEmbedder("", cfg.Model.OpenAIAPIKey, cfg.Archival.EmbeddingModel)
	}
	engine := search.New(st, embedder)
	return memory.New(st, embedder, engine), func() { st.Close() }, nil
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage persistent memories",
	}
	cmd.AddCommand(memoryListCmd())
	cmd.AddCommand(memorySearchCmd())
	cmd.AddCommand(memoryDeleteCmd())
	return cmd
}

func memoryListCmd() *cobra.Command {
	var memType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, closeFn, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := mem.List(context.Background(), store.MemoryType(memType), limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("(no memories)")
				return nil
			}
			for _, m := range rows {
				fmt.Printf("%s  [%-10s]  %s\n", m.ID, m.Type, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&memType, "type", "", "filter by type (fact|preference|learning)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "max rows")
	return cmd
}

func memorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories with the hybrid retrieval engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, closeFn, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeFn()

			opts := search.DefaultOptions()
			opts.Limit = limit
			results, err := mem.Search(context.Background(), args[0], opts)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("(no results)")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%.3f  %s  %s\n", r.FinalScore, r.ID, r.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "max results")
	return cmd
}

func memoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, closeFn, err := openMemoryStore()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := mem.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}
