package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"llm":{"model":"gpt-4o-mini","api_key":"file-key"},"pipeline":{"image_concurrency":5}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(openAIKeyEnv, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.APIKey != "file-key" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("expected default provider, got %q", cfg.LLM.Provider)
	}
	if cfg.Pipeline.ImageConcurrency != 5 {
		t.Fatalf("expected concurrency 5, got %d", cfg.Pipeline.ImageConcurrency)
	}
	if cfg.Pipeline.CallTimeoutSeconds != 30 {
		t.Fatalf("expected default timeout 30, got %d", cfg.Pipeline.CallTimeoutSeconds)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "store:\n  driver: memory\nlogging:\n  level: warn\nserver_addr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "warn" || cfg.ServerAddr != ":9090" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"llm":{"api_key":"file-key"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(openAIKeyEnv, "env-key")
	t.Setenv(logLevelEnv, "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Fatalf("expected env key, got %q", cfg.LLM.APIKey)
	}
	if cfg.Logging.Level != "error" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"provider":    func(c *Config) { c.LLM.Provider = "llama" },
		"deepseek":    func(c *Config) { c.LLM.Provider = "deepseek"; c.LLM.BaseURL = "" },
		"driver":      func(c *Config) { c.Store.Driver = "mongo" },
		"postgres":    func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" },
		"concurrency": func(c *Config) { c.Pipeline.ImageConcurrency = 0 },
		"timeout":     func(c *Config) { c.Pipeline.CallTimeoutSeconds = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
