package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("STORE", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Store != "memory" {
		t.Errorf("expected memory store, got %q", cfg.Store)
	}
	if cfg.MaxDurationSec != 180 {
		t.Errorf("expected 180s ceiling, got %v", cfg.MaxDurationSec)
	}
	if cfg.ChunkWindowSec != 15 {
		t.Errorf("expected 15s window, got %v", cfg.ChunkWindowSec)
	}
	if cfg.ChatTopK != 5 {
		t.Errorf("expected chat top-k 5, got %d", cfg.ChatTopK)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "store: pgvector\npostgres_url: postgres://from-file\nchunk_window_sec: 20\nembed_provider: onnx\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POSTGRES_URL", "postgres://from-env")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Store != "pgvector" {
		t.Errorf("expected pgvector, got %q", cfg.Store)
	}
	if cfg.PostgresURL != "postgres://from-env" {
		t.Errorf("env should override file, got %q", cfg.PostgresURL)
	}
	if cfg.ChunkWindowSec != 20 {
		t.Errorf("expected window 20, got %v", cfg.ChunkWindowSec)
	}
	if cfg.EmbeddingDim != 384 {
		t.Errorf("onnx default dim should be 384, got %d", cfg.EmbeddingDim)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"chat_model":"gpt-test","max_duration_sec":60}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHAT_MODEL", "")
	t.Setenv("OPENAI_MODEL", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ChatModel != "gpt-test" || cfg.MaxDurationSec != 60 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := &Config{Store: "cassandra", EmbedProvider: "openai", TranscribeProvider: "whisper", EmbeddingDim: 0}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown store", "api_key", "whisper_command", "embedding_dim"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestValidateOK(t *testing.T) {
	cfg := &Config{
		Store:              "memory",
		EmbedProvider:      "onnx",
		ONNXModelPath:      "model.onnx",
		TranscribeProvider: "whisper",
		WhisperCommand:     "whisper",
		EmbeddingDim:       384,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
