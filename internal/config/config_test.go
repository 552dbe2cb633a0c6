package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.MaxTurns != 5 {
		t.Fatalf("expected 5 max turns, got %d", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.MaxHistoryExchanges != 30 || cfg.Agent.HistoryTail != 10 {
		t.Fatalf("unexpected window defaults: %+v", cfg.Agent)
	}
	if cfg.Model.Provider != ProviderOllama || cfg.Model.Name != "qwen3" {
		t.Fatalf("unexpected model defaults: %+v", cfg.Model)
	}
	if cfg.Agent.SummaryMode != SummaryModeChain {
		t.Fatalf("expected chain summary mode, got %q", cfg.Agent.SummaryMode)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studia.toml")
	content := `
port = "9090"

[model]
name = "llama3.1"
chat_timeout = "30s"

[agent]
max_turns = 3
summary_mode = "once"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MAX_AGENT_TURNS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port from file, got %q", cfg.Port)
	}
	if cfg.Model.Name != "llama3.1" {
		t.Fatalf("expected model from file, got %q", cfg.Model.Name)
	}
	if cfg.Model.ChatTimeout != 30*time.Second {
		t.Fatalf("expected 30s chat timeout, got %s", cfg.Model.ChatTimeout)
	}
	if cfg.Agent.MaxTurns != 7 {
		t.Fatalf("expected env to override file, got %d", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.SummaryMode != SummaryModeOnce {
		t.Fatalf("expected once summary mode, got %q", cfg.Agent.SummaryMode)
	}
	if cfg.Agent.HistoryTail != 10 {
		t.Fatalf("expected untouched default tail, got %d", cfg.Agent.HistoryTail)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "unknown provider", mutate: func(c *Config) { c.Model.Provider = "bard" }, wantErr: "MODEL_PROVIDER"},
		{name: "openai without key", mutate: func(c *Config) { c.Model.Provider = ProviderOpenAI }, wantErr: "MODEL_API_KEY"},
		{name: "tail above threshold", mutate: func(c *Config) { c.Agent.HistoryTail = 40 }, wantErr: "MAX_HISTORY_EXCHANGES"},
		{name: "bad summary mode", mutate: func(c *Config) { c.Agent.SummaryMode = "never" }, wantErr: "SUMMARY_MODE"},
		{name: "zero turns", mutate: func(c *Config) { c.Agent.MaxTurns = 0 }, wantErr: "MAX_AGENT_TURNS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard in development, got %v", got)
	}
	cfg.FrontendURL = "https://studia.example.com"
	if got := cfg.AllowedOrigins(); got[0] != "https://studia.example.com" {
		t.Fatalf("expected frontend origin, got %v", got)
	}
}
