package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/.env")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Host() != DefaultHost {
		t.Errorf("Host() = %v, want %v", cfg.Host(), DefaultHost)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %v, want %v", cfg.Port(), DefaultPort)
	}
	if cfg.Model() != DefaultModel {
		t.Errorf("Model() = %v, want %v", cfg.Model(), DefaultModel)
	}
	if cfg.ModelDir() != DefaultModelDir {
		t.Errorf("ModelDir() = %v, want %v", cfg.ModelDir(), DefaultModelDir)
	}
	if cfg.Revision() != DefaultRevision {
		t.Errorf("Revision() = %v, want %v", cfg.Revision(), DefaultRevision)
	}
	if cfg.Addr() != "127.0.0.1:8765" {
		t.Errorf("Addr() = %v, want 127.0.0.1:8765", cfg.Addr())
	}
	if !cfg.Progress() {
		t.Error("Progress() = false, want true by default")
	}
	if cfg.MaxRetries() != DefaultMaxRetries {
		t.Errorf("MaxRetries() = %v, want %v", cfg.MaxRetries(), DefaultMaxRetries)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODEL", "org/custom-model")
	t.Setenv("MODEL_DIR", "/tmp/custom-models")
	t.Setenv("PORT", "9000")
	t.Setenv("NO_PROGRESS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Model() != "org/custom-model" {
		t.Errorf("Model() = %v, want org/custom-model", cfg.Model())
	}
	if cfg.ModelDir() != "/tmp/custom-models" {
		t.Errorf("ModelDir() = %v, want /tmp/custom-models", cfg.ModelDir())
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port() = %v, want 9000", cfg.Port())
	}
	if cfg.Progress() {
		t.Error("Progress() = true, want false when NO_PROGRESS is set")
	}
}

func TestDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("MODEL=org/dotenv-model\nPORT=9100\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MODEL", "org/env-model")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Model() != "org/env-model" {
		t.Errorf("Model() = %v, real env should win over .env", cfg.Model())
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port() = %v, want 9100 from .env", cfg.Port())
	}
}

func TestFlagOverrides(t *testing.T) {
	cfg, err := Load("/nonexistent/.env")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg = cfg.
		WithModel("org/flag-model").
		WithModelDir("out").
		WithHost("0.0.0.0").
		WithPort(8080).
		WithRevision("refs/pr/5").
		WithEndpoint("https://hub.example.com").
		WithProgress(false)

	if cfg.Model() != "org/flag-model" {
		t.Errorf("Model() = %v, want org/flag-model", cfg.Model())
	}
	if cfg.ModelDir() != "out" {
		t.Errorf("ModelDir() = %v, want out", cfg.ModelDir())
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %v, want 0.0.0.0:8080", cfg.Addr())
	}
	if cfg.Revision() != "refs/pr/5" {
		t.Errorf("Revision() = %v, want refs/pr/5", cfg.Revision())
	}
	if cfg.Endpoint() != "https://hub.example.com" {
		t.Errorf("Endpoint() = %v", cfg.Endpoint())
	}

	// Empty overrides keep the previous value.
	cfg = cfg.WithModel("").WithHost("").WithPort(0)
	if cfg.Model() != "org/flag-model" || cfg.Addr() != "0.0.0.0:8080" {
		t.Error("empty overrides must not clear existing values")
	}
}

func TestEnsureModelDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	cfg := Config{modelDir: dir}

	if err := cfg.EnsureModelDir(); err != nil {
		t.Fatalf("EnsureModelDir() error: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("model dir not created: %v", err)
	}

	// Drop a file in and make sure a second call leaves it alone.
	marker := filepath.Join(dir, "model.onnx")
	if err = os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err = cfg.EnsureModelDir(); err != nil {
		t.Fatalf("EnsureModelDir() second call error: %v", err)
	}
	if _, err = os.Stat(marker); err != nil {
		t.Error("existing directory contents must survive EnsureModelDir")
	}
}
