package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadMissingFile verifies a missing config file yields the defaults so
// the service can run on env vars alone.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want the default", cfg.Server.Port)
	}
	if cfg.Sessions.Path != "./sessions.jsonl" {
		t.Errorf("Sessions.Path = %q, want the default", cfg.Sessions.Path)
	}
	if cfg.Cache.ConversationTTL.Std() != time.Minute {
		t.Errorf("ConversationTTL = %v", cfg.Cache.ConversationTTL.Std())
	}
}

// TestLoadYAML verifies fields and duration strings parse from YAML.
func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sessions:
  path: /data/sessions.jsonl
  reloadInterval: 3m
  acquireWaitCeiling: 45s
upstream:
  baseUrl: https://upstream.test
  timeout: 20s
  retryAttempts: 5
cache:
  dbPath: /data/cache.db
  immutableTtl: 12h
server:
  port: "9090"
  requestTimeout: 25s
log:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sessions.Path != "/data/sessions.jsonl" {
		t.Errorf("Sessions.Path = %q", cfg.Sessions.Path)
	}
	if cfg.Sessions.ReloadInterval.Std() != 3*time.Minute {
		t.Errorf("ReloadInterval = %v", cfg.Sessions.ReloadInterval.Std())
	}
	if cfg.Sessions.AcquireWaitCeiling.Std() != 45*time.Second {
		t.Errorf("AcquireWaitCeiling = %v", cfg.Sessions.AcquireWaitCeiling.Std())
	}
	if cfg.Upstream.BaseURL != "https://upstream.test" || cfg.Upstream.RetryAttempts != 5 {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	if cfg.Cache.ImmutableTTL.Std() != 12*time.Hour {
		t.Errorf("ImmutableTTL = %v", cfg.Cache.ImmutableTTL.Std())
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	// Unset fields keep their defaults.
	if cfg.Cache.TimelineTTL.Std() != 2*time.Minute {
		t.Errorf("TimelineTTL = %v, want the default", cfg.Cache.TimelineTTL.Std())
	}
}

// TestLoadBadDuration verifies malformed durations are a load error, not a
// silent zero.
func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("upstream:\n  timeout: quickly\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with a bad duration succeeded, want error")
	}
}

// TestResolveEnv verifies environment overrides, including that selecting a
// bucket clears the local path.
func TestResolveEnv(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("SESSIONS_BUCKET", "prod-sessions")
	t.Setenv("SESSIONS_OBJECT", "sessions.jsonl")
	t.Setenv("UPSTREAM_BASE_URL", "https://env.test")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := Default()
	cfg.ResolveEnv()

	if cfg.Server.Port != "7070" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Sessions.Bucket != "prod-sessions" || cfg.Sessions.Object != "sessions.jsonl" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.Sessions.Path != "" {
		t.Errorf("Sessions.Path = %q, want cleared when a bucket is selected", cfg.Sessions.Path)
	}
	if cfg.Upstream.BaseURL != "https://env.test" {
		t.Errorf("BaseURL = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}
