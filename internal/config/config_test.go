package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost/guardbot"
telegram:
  bot_token: "token"
openai:
  api_key: "key"
  embedding_model: "text-embedding-3-small"
  dimensions: 256
model:
  classifier_path: "artifacts/classifier.json"
  scaler_path: "artifacts/scaler.json"
pipeline:
  deletion_sweep_interval_seconds: 5
server:
  port: ":9090"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/guardbot" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.OpenAI.Dimensions != 256 {
		t.Errorf("dimensions = %d, want 256", cfg.OpenAI.Dimensions)
	}
	if cfg.Pipeline.DeletionSweepInterval != 5 {
		t.Errorf("sweep interval = %d, want 5", cfg.Pipeline.DeletionSweepInterval)
	}
	if cfg.Server.Port != ":9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost/guardbot"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.OpenAI.Dimensions != 1536 {
		t.Errorf("default dimensions = %d, want 1536", cfg.OpenAI.Dimensions)
	}
	if cfg.Pipeline.DeletionSweepInterval != 10 {
		t.Errorf("default sweep interval = %d, want 10", cfg.Pipeline.DeletionSweepInterval)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("no/such/config.yml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
