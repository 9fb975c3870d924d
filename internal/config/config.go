// Package config provides configuration types and defaults for esvsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/tracing"
)

// ServerConfig holds the registry endpoint settings.
type ServerConfig struct {
	// URL is the registry root, e.g. "https://esv.example.com".
	URL string `mapstructure:"url"`
	// APIPrefix is the versioned path prefix. Default: "/esv/v1".
	APIPrefix string `mapstructure:"api_prefix"`
	// PageSize for paged listing endpoints. Default: 100.
	PageSize int `mapstructure:"page_size"`
	// RetryCount for transient request failures. Default: 3.
	RetryCount int `mapstructure:"retry_count"`
	// TimeoutSeconds bounds one request round trip. Default: 120.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// SkipCache disables the in-process resource cache.
	SkipCache bool `mapstructure:"skip_cache"`
}

// Timeout returns the request timeout as a duration.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Config holds all configuration options for esvsync.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	// DefinitionsDir holds the local definition YAML files.
	DefinitionsDir string `mapstructure:"definitions_dir"`
	// DatastorePath is the SQLite file tracking submission progress.
	DatastorePath string `mapstructure:"datastore_path"`

	// RegisterNew enables registration of unmatched definitions.
	RegisterNew bool `mapstructure:"register_new"`

	// LogFile receives debug logging when set.
	LogFile string `mapstructure:"log_file"`

	Tracing tracing.Config `mapstructure:"tracing"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			APIPrefix:      "/esv/v1",
			PageSize:       100,
			RetryCount:     3,
			TimeoutSeconds: 120,
		},
		DefinitionsDir: "definitions",
		DatastorePath:  ".esvsync/datastore.db",
		RegisterNew:    false,
		Tracing:        tracing.DefaultConfig(),
	}
}

// DefaultConfigTemplate is the commented starter config written on first
// run.
func DefaultConfigTemplate() string {
	return `# esvsync configuration

server:
  # Registry root URL. Required for any network operation.
  url: ""
  # api_prefix: /esv/v1
  # page_size: 100
  # retry_count: 3
  # timeout_seconds: 120

# Directory holding the definition YAML files.
definitions_dir: definitions

# SQLite file tracking resumable submission state.
datastore_path: .esvsync/datastore.db

# Register definitions that match nothing on the server.
register_new: false

# log_file: .esvsync/esvsync.log

tracing:
  enabled: false
  # exporter: file | stdout | otlp | none
  exporter: file
  # file_path: .esvsync/traces.jsonl
  # otlp_endpoint: localhost:4317
  # sample_rate: 1.0
`
}

// WriteDefaultConfig writes the starter config template to configPath.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
