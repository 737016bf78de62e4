// Package config provides configuration loading for recalld.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and sensible defaults. This package supports server, store,
// engine, ingest, and observability settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/telemetry"
)

// Config holds the complete recalld configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Engine        EngineConfig        `koanf:"engine"`
	Ingest        IngestConfig        `koanf:"ingest"`
	Observability ObservabilityConfig `koanf:"observability"`
	Telemetry     telemetry.Config    `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds SQLite storage configuration.
type StoreConfig struct {
	Path        string        `koanf:"path"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// EngineConfig holds episodic engine tuning.
type EngineConfig struct {
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// IngestConfig holds NATS ingestion configuration. Ingestion is optional;
// when disabled recalld serves only its HTTP and MCP surfaces.
type IngestConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Token   Secret `koanf:"token"`
}

// ObservabilityConfig holds metrics configuration.
type ObservabilityConfig struct {
	EnableMetrics bool   `koanf:"enable_metrics"`
	ServiceName   string `koanf:"service_name"`
}

// DefaultStorePath returns the default SQLite database location,
// ~/.local/share/recalld/recall.db.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "recalld", "recall.db"), nil
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Store path is empty
//   - Retention is negative
//   - Ingestion is enabled without a URL or subject
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Store.Path == "" {
		return errors.New("store path cannot be empty")
	}

	if c.Engine.RetentionDays < 0 {
		return errors.New("retention days cannot be negative")
	}

	if c.Ingest.Enabled {
		if c.Ingest.URL == "" {
			return errors.New("ingest URL required when ingestion is enabled")
		}
		if c.Ingest.Subject == "" {
			return errors.New("ingest subject required when ingestion is enabled")
		}
	}

	if c.Observability.EnableMetrics && c.Observability.ServiceName == "" {
		return errors.New("service name required when metrics are enabled")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}
