package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gtdsync/gtdsync/internal/transport"
)

// Default returns the built-in configuration before path resolution.
func Default() *Config {
	return &Config{
		DataDir: "~/.local/share/gtdsync",
		Backup:  BackupConfig{Keep: 10},
		Remote: RemoteConfig{
			Backend: transport.BackendDir,
			Dir:     "~/Dropbox",
			Region:  "us-east-1",
			UseSSL:  true,
		},
		Daemon: DaemonConfig{Interval: 15 * time.Minute, Debounce: 5 * time.Second},
		Log:    LogConfig{Level: "info", MaxSizeMB: 10},
	}
}

// fileConfig mirrors Config with durations as strings so the YAML stays
// readable ("15m" rather than 900000000000).
type fileConfig struct {
	DataDir string       `yaml:"data-dir"`
	DB      string       `yaml:"db,omitempty"`
	Backup  BackupConfig `yaml:"backup"`
	Remote  RemoteConfig `yaml:"remote"`
	Sync    SyncConfig   `yaml:"sync"`
	Daemon  struct {
		Interval string `yaml:"interval"`
		Debounce string `yaml:"debounce"`
		Listen   string `yaml:"listen"`
	} `yaml:"daemon"`
	Log LogConfig `yaml:"log"`
}

// MarshalYAML renders cfg as a config.yaml document.
func MarshalYAML(cfg *Config) ([]byte, error) {
	fc := fileConfig{
		DataDir: cfg.DataDir,
		DB:      cfg.DB,
		Backup:  cfg.Backup,
		Remote:  cfg.Remote,
		Sync:    cfg.Sync,
		Log:     cfg.Log,
	}
	fc.Daemon.Interval = cfg.Daemon.Interval.String()
	fc.Daemon.Debounce = cfg.Daemon.Debounce.String()
	fc.Daemon.Listen = cfg.Daemon.Listen

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append([]byte("# gtdsync configuration\n"), data...), nil
}

// WriteDefault writes the default configuration to path unless it exists.
func WriteDefault(path string, force bool) error {
	return Write(path, Default(), force)
}

// Write stores cfg at path. An existing file is only replaced when force is set.
func Write(path string, cfg *Config, force bool) error {
	path = expandHome(path)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := MarshalYAML(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// DefaultPath is where `gtdsync config init` writes by default.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gtdsync", ConfigName)
	}
	return filepath.Join("~", ".gtdsync", ConfigName)
}
