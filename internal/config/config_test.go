package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Database.PoolSize != 5 {
		t.Errorf("expected pool size 5, got %d", cfg.Database.PoolSize)
	}
	if cfg.Sandbox.PythonImage != "python:3.12-slim" {
		t.Errorf("expected default python image, got %s", cfg.Sandbox.PythonImage)
	}
	if cfg.Sandbox.ChromedriverImage != "zenika/alpine-chrome:with-chromedriver" {
		t.Errorf("expected default chromedriver image, got %s", cfg.Sandbox.ChromedriverImage)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load("/nonexistent/bridge.toml"); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bridge")
	t.Setenv("DATABASE_POOL_SIZE", "20")

	cfg, err := Load("/nonexistent/bridge.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/bridge" {
		t.Errorf("expected DATABASE_URL to be read, got %s", cfg.Database.URL)
	}
	if cfg.Database.PoolSize != 20 {
		t.Errorf("expected pool size 20, got %d", cfg.Database.PoolSize)
	}
}

func TestLoadFromTOMLOverridesSandboxImages(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bridge")

	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.toml")
	if err := os.WriteFile(path, []byte(`
[sandbox]
python_image = "python:3.11-slim"
chromedriver_image = "custom/chromedriver:latest"
`), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sandbox.PythonImage != "python:3.11-slim" {
		t.Errorf("expected overridden python image, got %s", cfg.Sandbox.PythonImage)
	}
	if cfg.Sandbox.ChromedriverImage != "custom/chromedriver:latest" {
		t.Errorf("expected overridden chromedriver image, got %s", cfg.Sandbox.ChromedriverImage)
	}
	// Unset field keeps default.
	if cfg.Sandbox.ChromedriverPort != "9515/tcp" {
		t.Errorf("expected default chromedriver port, got %s", cfg.Sandbox.ChromedriverPort)
	}
}
