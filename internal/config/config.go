// Package config provides YAML configuration loading and validation for
// pitwall's cmd/introspectserver example binary.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for a pitwall binary.
type Config struct {
	// ArchivePath is a recorded .ibt file to open. Leave empty to attach
	// to a live session instead.
	ArchivePath string `yaml:"archive_path"`

	// IntrospectAddr is the listen address for the read-only HTTP
	// introspection API. Defaults to "127.0.0.1:8080" when omitted.
	IntrospectAddr string `yaml:"introspect_addr"`

	// JWTPublicKeyPath is the path to a PEM RSA public key used to
	// validate Bearer tokens on the introspection API. Leave empty to
	// disable authentication (dev only).
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`

	// AuditLogPath, when set, records connect/reconnect/shutdown
	// lifecycle events to a hash-chained append-only log at this path.
	AuditLogPath string `yaml:"audit_log_path"`

	// Catalog holds settings for indexing a directory of archive files.
	Catalog CatalogConfig `yaml:"catalog"`

	// SessionStore holds settings for archiving parsed session metadata
	// to Postgres.
	SessionStore SessionStoreConfig `yaml:"session_store"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// CatalogConfig configures the local archive-file index.
type CatalogConfig struct {
	// DBPath is the path to the SQLite catalog database. Required when
	// Dir is set.
	DBPath string `yaml:"db_path"`

	// Dir is a directory of .ibt files to scan and index. Leave empty to
	// disable cataloging.
	Dir string `yaml:"dir"`
}

// SessionStoreConfig configures the durable session-metadata archive.
type SessionStoreConfig struct {
	// DSN is a PostgreSQL connection string. Leave empty to disable
	// session archiving.
	DSN string `yaml:"dsn"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates all fields. It returns a joined error
// describing every validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.IntrospectAddr == "" {
		cfg.IntrospectAddr = "127.0.0.1:8080"
	}
}

// validate checks that enumerated fields contain only valid values and
// that settings requiring one another are configured together.
func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Catalog.Dir != "" && cfg.Catalog.DBPath == "" {
		errs = append(errs, errors.New("catalog.db_path is required when catalog.dir is set"))
	}

	return errors.Join(errs...)
}
