package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `store:
  url: redis://localhost:6379/0
  prefix: "idoit:"

worker:
  pools:
    - default
    - high_priority
  poll_interval: 250ms
  remove_delay: 5m
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "store.url", cfg.Store.URL, "redis://localhost:6379/0")
	assertEqual(t, "store.prefix", cfg.Store.Prefix, "idoit:")

	if len(cfg.Worker.Pools) != 2 || cfg.Worker.Pools[0] != "default" || cfg.Worker.Pools[1] != "high_priority" {
		t.Errorf("worker.pools = %v, want [default high_priority]", cfg.Worker.Pools)
	}
	if cfg.Worker.PollInterval.Duration != 250*time.Millisecond {
		t.Errorf("worker.poll_interval = %v, want 250ms", cfg.Worker.PollInterval.Duration)
	}
	if cfg.Worker.RemoveDelay.Duration != 5*time.Minute {
		t.Errorf("worker.remove_delay = %v, want 5m", cfg.Worker.RemoveDelay.Duration)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.URL != "" {
		t.Errorf("expected empty store.url, got %q", cfg.Store.URL)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/idoit.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_URL", "redis://expanded:6379/0")

	yaml := `store:
  url: ${TEST_REDIS_URL}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "store.url", cfg.Store.URL, "redis://expanded:6379/0")
}

func TestLoad_EnvExpansionDefault(t *testing.T) {
	os.Unsetenv("TEST_REDIS_PREFIX")

	yaml := `store:
  prefix: ${TEST_REDIS_PREFIX:-idoit:}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "store.prefix", cfg.Store.Prefix, "idoit:")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `store:
  url: redis://localhost:6379
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `worker:
  pools:
    - default
  unknown_field: bad
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	yaml := "worker:\n  poll_interval: 30s\n"
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Worker.PollInterval.Duration != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.Worker.PollInterval.Duration)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "idoit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
