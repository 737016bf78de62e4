package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temporary directory for the duration of a
// test and returns its path.
func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	return tmpHome
}

// writeTestConfig writes a config file into the allowed directory with
// secure permissions and returns its path.
func writeTestConfig(t *testing.T, home, content string) string {
	t.Helper()
	configDir := filepath.Join(home, ".config", "recalld")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, `server:
  http_port: 9177
  shutdown_timeout: 15s

store:
  path: /tmp/recall-test.db

engine:
  retention_days: 30

observability:
  enable_metrics: true
  service_name: recalld-test
`)

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9177 {
		t.Errorf("Server.Port = %d, want 9177", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Store.Path != "/tmp/recall-test.db" {
		t.Errorf("Store.Path = %q, want /tmp/recall-test.db", cfg.Store.Path)
	}
	if cfg.Engine.RetentionDays != 30 {
		t.Errorf("Engine.RetentionDays = %d, want 30", cfg.Engine.RetentionDays)
	}
	if cfg.Observability.ServiceName != "recalld-test" {
		t.Errorf("Observability.ServiceName = %q, want %q", cfg.Observability.ServiceName, "recalld-test")
	}
	if !cfg.Observability.EnableMetrics {
		t.Error("Observability.EnableMetrics = false, want true")
	}
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, `server:
  http_port: 9177

ingest:
  enabled: false
  subject: yaml.subject
`)

	t.Setenv("SERVER_HTTP_PORT", "7777")
	t.Setenv("INGEST_SUBJECT", "env.subject")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (env override)", cfg.Server.Port)
	}
	if cfg.Ingest.Subject != "env.subject" {
		t.Errorf("Ingest.Subject = %q, want env.subject (env override)", cfg.Ingest.Subject)
	}
}

func TestLoadWithFile_DefaultsWhenFileMissing(t *testing.T) {
	home := setupTestHome(t)

	configPath := filepath.Join(home, ".config", "recalld", "config.yaml")
	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9177 {
		t.Errorf("Server.Port = %d, want default 9177", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want default 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Engine.RetentionDays != 90 {
		t.Errorf("Engine.RetentionDays = %d, want default 90", cfg.Engine.RetentionDays)
	}
	if cfg.Engine.CleanupInterval != 24*time.Hour {
		t.Errorf("Engine.CleanupInterval = %v, want default 24h", cfg.Engine.CleanupInterval)
	}
	if cfg.Ingest.Subject != "experiences.>" {
		t.Errorf("Ingest.Subject = %q, want default experiences.>", cfg.Ingest.Subject)
	}
	if cfg.Observability.ServiceName != "recalld" {
		t.Errorf("Observability.ServiceName = %q, want default recalld", cfg.Observability.ServiceName)
	}
	if !cfg.Observability.EnableMetrics {
		t.Error("Observability.EnableMetrics = false, want default true")
	}
	if want := filepath.Join(home, ".local", "share", "recalld", "recall.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
}

func TestLoadWithFile_MetricsCanBeDisabled(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, "observability:\n  enable_metrics: false\n")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Observability.EnableMetrics {
		t.Error("Observability.EnableMetrics = true, want false from file")
	}
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	home := setupTestHome(t)

	outsidePath := filepath.Join(home, "elsewhere", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(outsidePath), 0700); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(outsidePath, []byte("server:\n  http_port: 1\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, err := LoadWithFile(outsidePath)
	if err == nil {
		t.Fatal("LoadWithFile() error = nil, want path validation error")
	}
	if !strings.Contains(err.Error(), "path validation failed") {
		t.Errorf("error = %v, want path validation failure", err)
	}
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission checks are skipped on Windows")
	}
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, "server:\n  http_port: 9177\n")
	if err := os.Chmod(configPath, 0644); err != nil {
		t.Fatalf("Failed to chmod config: %v", err)
	}

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Fatal("LoadWithFile() error = nil, want permission error")
	}
	if !strings.Contains(err.Error(), "insecure config file permissions") {
		t.Errorf("error = %v, want permission failure", err)
	}
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	home := setupTestHome(t)
	configPath := writeTestConfig(t, home, "server: [not a mapping\n")

	if _, err := LoadWithFile(configPath); err == nil {
		t.Fatal("LoadWithFile() error = nil, want parse error")
	}
}

func TestLoadWithFile_SecretStaysRedacted(t *testing.T) {
	home := setupTestHome(t)
	configPath := writeTestConfig(t, home, `ingest:
  enabled: true
  url: nats://127.0.0.1:4222
  subject: experiences.>
  token: super-secret-token
`)

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Ingest.Token.Value() != "super-secret-token" {
		t.Errorf("Token.Value() = %q, want the raw secret", cfg.Ingest.Token.Value())
	}
	if got := cfg.Ingest.Token.String(); got != "[REDACTED]" {
		t.Errorf("Token.String() = %q, want [REDACTED]", got)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := setupTestHome(t)

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v, want nil", err)
	}

	info, err := os.Stat(filepath.Join(home, ".config", "recalld"))
	if err != nil {
		t.Fatalf("config dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("config path is not a directory")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0700 {
		t.Errorf("config dir permissions = %v, want 0700", info.Mode().Perm())
	}
}
