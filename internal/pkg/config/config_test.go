package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POSTGRES_URL", "postgres://argos@localhost/argos?sslmode=disable")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tuning.Weights.Vector != 0.4 || cfg.Tuning.Weights.Actor != 0.2 {
		t.Errorf("unexpected default weights: %+v", cfg.Tuning.Weights)
	}
	if cfg.Tuning.DuplicateWindow != 24*time.Hour || cfg.Tuning.CrossLingualThreshold != 0.75 {
		t.Errorf("unexpected duplicate defaults: %+v", cfg.Tuning)
	}
	if cfg.Stream.Events != "argos:events" || cfg.Embedding.Dims != 768 {
		t.Errorf("unexpected stream/embedding defaults: %+v %+v", cfg.Stream, cfg.Embedding)
	}
	if _, ok := cfg.Tuning.ExternalClustering(); ok {
		t.Error("external clustering must be off by default")
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no kafka brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")
	t.Setenv("POSTGRES_URL", "postgres://localhost")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without REDIS_ADDR")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TUNING_DUPLICATE_THRESHOLD", "0.9")
	t.Setenv("TUNING_EXTERNAL_COMMAND", "python3")
	t.Setenv("TUNING_EXTERNAL_ARGS", "scripts/cluster.py")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tuning.Similarity().DuplicateThreshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %v", cfg.Tuning.DuplicateThreshold)
	}
	ext, ok := cfg.Tuning.ExternalClustering()
	if !ok || ext.Command != "python3" || len(ext.Args) != 1 || ext.MinClusterSize != 2 {
		t.Errorf("unexpected external config: %+v", ext)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_TuningFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	yamlDoc := `
weights:
  vector: 0.5
  temporal: 0.2
  geographic: 0.2
  actor: 0.1
duplicate_window: 12h
grace_window: 24h
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUNING_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tuning.Weights.Vector != 0.5 || cfg.Tuning.Weights.Actor != 0.1 {
		t.Errorf("expected file weights, got %+v", cfg.Tuning.Weights)
	}
	if cfg.Tuning.DuplicateWindow != 12*time.Hour || cfg.Tuning.Escalation().GraceWindow != 24*time.Hour {
		t.Errorf("expected file windows, got %v %v", cfg.Tuning.DuplicateWindow, cfg.Tuning.GraceWindow)
	}
	// Untouched keys keep their env defaults.
	if cfg.Tuning.CrossLingualThreshold != 0.75 {
		t.Errorf("expected default cross-lingual threshold, got %v", cfg.Tuning.CrossLingualThreshold)
	}
}

func TestLoad_InvalidWeights(t *testing.T) {
	setRequired(t)
	t.Setenv("TUNING_WEIGHT_VECTOR", "0.7")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
	if !strings.Contains(err.Error(), "sum") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRedactionFields(t *testing.T) {
	cfg := &Config{PIIRedactionFields: " author_handle, ,author.id "}
	got := cfg.RedactionFields()
	if len(got) != 2 || got[0] != "author_handle" || got[1] != "author.id" {
		t.Errorf("unexpected fields: %v", got)
	}
}
