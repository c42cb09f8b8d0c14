package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/fern/internal/config"
	"github.com/nextlevelbuilder/fern/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("fern doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Server:")
	fmt.Printf("    %-18s %s:%d\n", "Listen:", cfg.Server.Host, cfg.Server.Port)
	checkConfigured("Webhook base URL", cfg.Server.WebhookBaseURL)
	checkSecret("Channel token", cfg.Server.ChannelAuthToken)
	checkSecret("GitHub secret", cfg.Server.GitHubWebhookSecret)

	fmt.Println()
	fmt.Println("  Model:")
	fmt.Printf("    %-18s %s / %s\n", "Provider:", cfg.Model.Provider, cfg.Model.Name)
	checkConfigured("LLM client URL", cfg.Model.ClientBaseURL)
	checkSecret("OpenAI key", cfg.Model.OpenAIAPIKey)

	fmt.Println()
	fmt.Println("  Storage:")
	storageDir := cfg.StoragePath()
	fmt.Printf("    %-18s %s", "Path:", storageDir)
	if _, err := os.Stat(storageDir); err != nil {
		fmt.Println(" (NOT FOUND — created on first serve)")
	} else {
		fmt.Println(" (OK)")
	}

	st, err := store.Open(storageDir)
	if err != nil {
		fmt.Printf("    %-18s OPEN FAILED (%s)\n", "Database:", err)
	} else {
		defer st.Close()
		if err := st.Init(context.Background()); err != nil {
			fmt.Printf("    %-18s INIT FAILED (%s)\n", "Database:", err)
		} else {
			fmt.Printf("    %-18s %s (OK)\n", "Database:", filepath.Join(storageDir, "fern.db"))
			mode := "FTS-only"
			if st.IsVectorReady() {
				mode = "vector + FTS"
			}
			fmt.Printf("    %-18s %s\n", "Search mode:", mode)
		}
	}

	fmt.Println()
	fmt.Println("  Background work:")
	checkEnabled("Scheduler", cfg.Scheduler.Enabled)
	checkEnabled("Sub-agents", cfg.Subagent.Enabled)
	fmt.Printf("    %-18s LLM %d / scheduler %d failures\n", "Watchdog trips:",
		cfg.Watchdog.MaxLLMFailures, cfg.Watchdog.MaxSchedulerFailures)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkConfigured(name, value string) {
	if value != "" {
		fmt.Printf("    %-18s %s\n", name+":", value)
	} else {
		fmt.Printf("    %-18s (not configured)\n", name+":")
	}
}

func checkSecret(name, secret string) {
	if secret == "" {
		fmt.Printf("    %-18s (not configured)\n", name+":")
		return
	}
	masked := secret
	if len(secret) > 8 {
		masked = secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
	} else {
		masked = strings.Repeat("*", len(secret))
	}
	fmt.Printf("    %-18s %s\n", name+":", masked)
}

func checkEnabled(name string, enabled bool) {
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	fmt.Printf("    %-18s %s\n", name+":", status)
}
