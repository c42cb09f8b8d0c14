package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Archival.ChunkTokenThreshold != 25000 {
		t.Errorf("Archival.ChunkTokenThreshold = %d, want 25000", cfg.Archival.ChunkTokenThreshold)
	}
	if cfg.Watchdog.MaxLLMFailures != 5 {
		t.Errorf("Watchdog.MaxLLMFailures = %d, want 5", cfg.Watchdog.MaxLLMFailures)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"server":{"port":9000}}`), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100 (env should win over file)", cfg.Server.Port)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		check  func(*Config) bool
	}{
		{"storage path", "STORAGE_PATH", "/tmp/fern-data", func(c *Config) bool { return c.Storage.Path == "/tmp/fern-data" }},
		{"scheduler enabled false", "SCHEDULER_ENABLED", "false", func(c *Config) bool { return !c.Scheduler.Enabled }},
		{"subagent max concurrent", "SUBAGENT_MAX_CONCURRENT", "7", func(c *Config) bool { return c.Subagent.MaxConcurrent == 7 }},
		{"auto memory min relevance", "AUTO_MEMORY_MIN_RELEVANCE", "0.42", func(c *Config) bool { return c.Retrieval.AutoMemoryMinRelevance == 0.42 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envVal)
			cfg := Default()
			cfg.applyEnvOverrides()
			if !tt.check(cfg) {
				t.Errorf("env override for %s=%s did not apply", tt.envKey, tt.envVal)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in, want string
	}{
		{"~/.fern", home + "/.fern"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveAndHash(t *testing.T) {
	cfg := Default()
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	h1 := cfg.Hash()
	cfg.Server.Port = 9999
	h2 := cfg.Hash()
	if h1 == h2 {
		t.Error("Hash() did not change after mutating config")
	}
}
