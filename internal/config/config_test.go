package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
listen:
  api_port: 9090
  api_bind: "0.0.0.0"

defaults:
  documents_path: /var/lib/corepoold
  num_read_connections: 3

databases:
  main:
    location: prod
    num_read_connections: 5
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.APIPort != 9090 {
		t.Errorf("expected api port 9090, got %d", cfg.Listen.APIPort)
	}
	if cfg.Listen.APIBind != "0.0.0.0" {
		t.Errorf("expected api bind 0.0.0.0, got %s", cfg.Listen.APIBind)
	}
	if cfg.Defaults.DocumentsPath != "/var/lib/corepoold" {
		t.Errorf("expected documents_path /var/lib/corepoold, got %s", cfg.Defaults.DocumentsPath)
	}
	if cfg.Defaults.NumReadConnections != 3 {
		t.Errorf("expected default num_read_connections 3, got %d", cfg.Defaults.NumReadConnections)
	}

	db, ok := cfg.Databases["main"]
	if !ok {
		t.Fatal("database \"main\" not found")
	}
	if db.Location != "prod" {
		t.Errorf("expected location prod, got %s", db.Location)
	}
	if db.EffectiveNumReadConnections(cfg.Defaults) != 5 {
		t.Errorf("expected overridden num_read_connections 5, got %d", db.EffectiveNumReadConnections(cfg.Defaults))
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_DOCUMENTS_PATH", "/tmp/corepoold-data")
	defer os.Unsetenv("TEST_DOCUMENTS_PATH")

	yaml := `
defaults:
  documents_path: ${TEST_DOCUMENTS_PATH}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Defaults.DocumentsPath != "/tmp/corepoold-data" {
		t.Errorf("expected substituted documents_path, got %s", cfg.Defaults.DocumentsPath)
	}
}

func TestLoadValidationErrorOnNegativeReadConnections(t *testing.T) {
	yaml := `
databases:
  main:
    num_read_connections: -1
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected validation error for negative num_read_connections")
	}
}

func TestApplyDefaults(t *testing.T) {
	yaml := `
databases: {}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.APIPort != 8080 {
		t.Errorf("expected default api port 8080, got %d", cfg.Listen.APIPort)
	}
	if cfg.Listen.APIBind != "127.0.0.1" {
		t.Errorf("expected default api bind 127.0.0.1, got %s", cfg.Listen.APIBind)
	}
	if cfg.Defaults.DocumentsPath != "./data" {
		t.Errorf("expected default documents_path ./data, got %s", cfg.Defaults.DocumentsPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
}

func TestDatabaseConfigEffectiveNumReadConnections(t *testing.T) {
	defaults := PoolDefaults{NumReadConnections: 2}

	unoverridden := DatabaseConfig{}
	if unoverridden.EffectiveNumReadConnections(defaults) != 2 {
		t.Error("expected default num_read_connections")
	}

	n := 7
	overridden := DatabaseConfig{NumReadConnections: &n}
	if overridden.EffectiveNumReadConnections(defaults) != 7 {
		t.Error("expected overridden num_read_connections of 7")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTemp(t, "defaults:\n  num_read_connections: 1\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("defaults:\n  num_read_connections: 9\n"), 0644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Defaults.NumReadConnections != 9 {
			t.Errorf("expected reloaded num_read_connections 9, got %d", cfg.Defaults.NumReadConnections)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
