// Package config loads gitvfs configuration from the enlistment's
// .gvfs/config.dat (YAML, despite the extension — VFSForGit's own
// config.json precedent, kept here as a structured file instead of a
// flat key-value store) with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds gitvfs's settings: cache-server URL, retry/timeout
// knobs, status-cache backoff, unattended mode, and upgrade checks.
type Config struct {
	CacheServerURL       string `yaml:"cache_server_url"`
	MaxRetries           int    `yaml:"max_retries"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	StatusCacheBackoffMs int    `yaml:"status_cache_backoff_ms"`
	Unattended           bool   `yaml:"unattended"`
	UpgradesEnabled      bool   `yaml:"upgrades_enabled"`

	Mount       MountConfig       `yaml:"mount"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Log         LogConfig         `yaml:"log"`
}

// MountConfig holds mount settings read from config.dat. The mount
// command does not read them: it takes the mountpoint from its argument.
type MountConfig struct {
	DefaultPath string `yaml:"default_path"`
	AllowOther  bool   `yaml:"allow_other"`
}

// MaintenanceConfig holds maintenance interval and repack settings read
// from config.dat. The scheduler in internal/maintenance does not read
// them: its steps use fixed 24-hour intervals and --batch-size=0.
type MaintenanceConfig struct {
	PackfileMaintenanceInterval time.Duration `yaml:"packfile_maintenance_interval"`
	LooseObjectInterval         time.Duration `yaml:"loose_object_interval"`
	CommitGraphInterval         time.Duration `yaml:"commit_graph_interval"`
	RepackBatchSize             string        `yaml:"repack_batch_size"`
}

// LogConfig holds diagnostics settings read from config.dat. The trace
// sink does not read them: it writes to the enlistment's LogDir.
type LogConfig struct {
	Level         string `yaml:"level"`
	Directory     string `yaml:"directory"`
	TelemetryJSON bool   `yaml:"telemetry_json"`
}

// Default returns the baseline configuration before file/env overrides.
func Default() *Config {
	return &Config{
		MaxRetries:           5,
		TimeoutSeconds:       30,
		StatusCacheBackoffMs: 50,
		Maintenance: MaintenanceConfig{
			PackfileMaintenanceInterval: 24 * time.Hour,
			LooseObjectInterval:         24 * time.Hour,
			CommitGraphInterval:         24 * time.Hour,
			RepackBatchSize:             "2g",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads configuration for an enlistment rooted at enlistmentRoot using
// the real process environment.
func Load(enlistmentRoot string) (*Config, error) {
	return LoadWithEnv(enlistmentRoot, os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, a testability seam so tests don't depend on process env.
func LoadWithEnv(enlistmentRoot string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	path := ConfigPath(enlistmentRoot)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := getenv("GITVFS_CACHE_SERVER_URL"); v != "" {
		cfg.CacheServerURL = v
	}
	if v := getenv("GITVFS_UNATTENDED"); v == "1" {
		cfg.Unattended = true
	}

	return cfg, nil
}

// ConfigPath returns the path to the enlistment's config.dat under .gvfs/.
func ConfigPath(enlistmentRoot string) string {
	return filepath.Join(enlistmentRoot, ".gvfs", "config.dat")
}
