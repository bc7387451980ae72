// Package config loads and validates the engine's TOML configuration,
// layering a config file over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arborapp/localsync/internal/db"
	"github.com/arborapp/localsync/internal/netmon"
	"github.com/arborapp/localsync/internal/ratelimit"
	"github.com/arborapp/localsync/internal/remote"
	"github.com/arborapp/localsync/internal/syncer"
)

// Config represents the application configuration
type Config struct {
	Database  db.Config        `toml:"database"`
	RateLimit ratelimit.Config `toml:"rate_limit"`
	Network   netmon.Config    `toml:"network"`
	Syncer    syncer.Config    `toml:"syncer"`
	Remote    remote.Config    `toml:"remote"`
	Logging   LoggingConfig    `toml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	network := netmon.DefaultConfig()
	network.HealthURL = "http://localhost:8080/health"

	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "localsync.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
			SkipMigrations:  false,
		},
		RateLimit: ratelimit.DefaultConfig(),
		Network:   network,
		Syncer:    syncer.DefaultConfig(),
		Remote: remote.Config{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// If no config file specified, return defaults
	if configPath == "" {
		return config, nil
	}

	// Load from file if it exists
	fileConfig, err := LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	return fileConfig, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}

	if err := c.Syncer.Validate(); err != nil {
		return fmt.Errorf("syncer: %w", err)
	}

	// Remote validation
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base_url must be specified")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
