package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHECKPOINT_EVERY", "")
	t.Setenv("QUOTA_DEFAULT_MAX_REQUESTS", "")

	cfg := Load()

	if cfg.CheckpointEvery != 10 {
		t.Fatalf("expected checkpoint every 10, got %d", cfg.CheckpointEvery)
	}
	if cfg.QuotaDefaultMax != 250 {
		t.Fatalf("expected quota max 250, got %d", cfg.QuotaDefaultMax)
	}
	if cfg.QuotaWindow != 30*24*time.Hour {
		t.Fatalf("expected 30 day window, got %s", cfg.QuotaWindow)
	}
	if cfg.UpstreamTimeout <= 0 {
		t.Fatalf("expected positive upstream timeout, got %s", cfg.UpstreamTimeout)
	}
	if cfg.ClientWriteTimeout != 30*time.Second {
		t.Fatalf("expected 30s client write timeout, got %s", cfg.ClientWriteTimeout)
	}
	if cfg.RabbitQueue == "" {
		t.Fatalf("expected default rabbit queue")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHECKPOINT_EVERY", "4")
	t.Setenv("UPSTREAM_TIMEOUT", "90s")
	t.Setenv("QUOTA_LOCK", " Redis ")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("OPENAI_API_KEY", "sk-shared")

	cfg := Load()

	if cfg.CheckpointEvery != 4 {
		t.Fatalf("expected 4, got %d", cfg.CheckpointEvery)
	}
	if cfg.UpstreamTimeout != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.UpstreamTimeout)
	}
	if cfg.QuotaLock != "redis" {
		t.Fatalf("expected normalized lock kind, got %q", cfg.QuotaLock)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("expected concurrency capped at 50, got %d", cfg.WorkerConcurrency)
	}
	if got := cfg.SharedKeys()["openai"]; got != "sk-shared" {
		t.Fatalf("unexpected shared openai key %q", got)
	}
}

func TestLocalKeys_OllamaIsNotShared(t *testing.T) {
	cfg := Config{OllamaBaseURL: "http://localhost:11434/v1"}
	if _, ok := cfg.SharedKeys()["ollama"]; ok {
		t.Fatalf("ollama must not be a shared key")
	}
	if cfg.LocalKeys()["ollama"] == "" {
		t.Fatalf("expected ollama in local keys")
	}
	if len(Config{}.LocalKeys()) != 0 {
		t.Fatalf("no local providers without a base url")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	body := []byte("system_prompt: be brief\nquota_window_days: 7\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("QUOTA_WINDOW_DAYS", "")

	cfg := Load()

	if cfg.SystemPrompt != "be brief" {
		t.Fatalf("expected system prompt from file, got %q", cfg.SystemPrompt)
	}
	if cfg.QuotaWindow != 7*24*time.Hour {
		t.Fatalf("expected 7 day window, got %s", cfg.QuotaWindow)
	}
}
