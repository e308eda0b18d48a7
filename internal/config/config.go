// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from YAML with environment
// overrides, validates it, and supports hot reloading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Network   NetworkConfig   `yaml:"network"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Transfers TransfersConfig `yaml:"transfers"`
	API       APIConfig       `yaml:"api"`
}

// NetworkConfig tunes the connectivity probe.
type NetworkConfig struct {
	ProbeAddr     string        `yaml:"probe_addr"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// MonitorConfig tunes the credential refresh monitor.
type MonitorConfig struct {
	CycleInterval   time.Duration `yaml:"cycle_interval"`
	ExpiryThreshold time.Duration `yaml:"expiry_threshold"`
}

// TransfersConfig tunes the transfer engine.
type TransfersConfig struct {
	WorkerCount  int  `yaml:"workers"`
	AllowMetered bool `yaml:"allow_metered"`
	AllowRoaming bool `yaml:"allow_roaming"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	RateLimit       int           `yaml:"rate_limit"` // requests per minute per client
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:   ":8484",
		DataDir:  "./data",
		LogLevel: "info",
		Network: NetworkConfig{
			ProbeAddr:     "1.1.1.1:443",
			ProbeInterval: 30 * time.Second,
		},
		Monitor: MonitorConfig{
			CycleInterval:   10 * time.Second,
			ExpiryThreshold: 120 * time.Second,
		},
		Transfers: TransfersConfig{
			WorkerCount:  3,
			AllowMetered: true,
			AllowRoaming: false,
		},
		API: APIConfig{
			RateLimit:       120,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (optional), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from CELLAR_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CELLAR_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CELLAR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CELLAR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CELLAR_PROBE_ADDR"); v != "" {
		cfg.Network.ProbeAddr = v
	}
	if v := os.Getenv("CELLAR_TRANSFER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transfers.WorkerCount = n
		}
	}
	if v := os.Getenv("CELLAR_ALLOW_METERED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Transfers.AllowMetered = b
		}
	}
	if v := os.Getenv("CELLAR_ALLOW_ROAMING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Transfers.AllowRoaming = b
		}
	}
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if cfg.Transfers.WorkerCount < 1 {
		return fmt.Errorf("config: transfers.workers must be at least 1, got %d", cfg.Transfers.WorkerCount)
	}
	if cfg.Network.ProbeInterval < time.Second {
		return fmt.Errorf("config: network.probe_interval must be at least 1s")
	}
	if cfg.Monitor.CycleInterval < time.Second {
		return fmt.Errorf("config: monitor.cycle_interval must be at least 1s")
	}
	if cfg.API.RateLimit < 1 {
		return fmt.Errorf("config: api.rate_limit must be at least 1")
	}
	return nil
}

// AccountsDBPath returns the sqlite path for the account store.
func (c Config) AccountsDBPath() string { return filepath.Join(c.DataDir, "accounts.db") }

// LedgerDBPath returns the sqlite path for the job ledger.
func (c Config) LedgerDBPath() string { return filepath.Join(c.DataDir, "ledger.db") }

// TransfersDBPath returns the sqlite path for the transfer store.
func (c Config) TransfersDBPath() string { return filepath.Join(c.DataDir, "transfers.db") }

// TokensPath returns the badger directory for the token store.
func (c Config) TokensPath() string { return filepath.Join(c.DataDir, "tokens") }

// FilesDir returns the root directory for downloaded files.
func (c Config) FilesDir() string { return filepath.Join(c.DataDir, "files") }
