// Package config loads gtdsync settings from config.yaml, the environment
// and defaults, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gtdsync/gtdsync/internal/transport"
)

// EnvPrefix prefixes every environment variable, e.g. GTDSYNC_REMOTE_DIR.
const EnvPrefix = "GTDSYNC"

// ConfigName is the file searched for in the config directories.
const ConfigName = "config.yaml"

// Config is the resolved configuration.
type Config struct {
	DataDir string       `mapstructure:"data-dir" yaml:"data-dir"`
	DB      string       `mapstructure:"db" yaml:"db"`
	Backup  BackupConfig `mapstructure:"backup" yaml:"backup"`
	Remote  RemoteConfig `mapstructure:"remote" yaml:"remote"`
	Sync    SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Daemon  DaemonConfig `mapstructure:"daemon" yaml:"daemon"`
	Log     LogConfig    `mapstructure:"log" yaml:"log"`

	// File is the config file that was read ("" when none was found).
	File string `mapstructure:"-" yaml:"-"`
	// Warnings lists non-fatal problems found while loading.
	Warnings []string `mapstructure:"-" yaml:"-"`
}

// BackupConfig controls local database backups.
type BackupConfig struct {
	Dir  string `mapstructure:"dir" yaml:"dir"`
	Keep int    `mapstructure:"keep" yaml:"keep"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket"`
	Region      string `mapstructure:"region" yaml:"region"`
	AccessKey   string `mapstructure:"access_key" yaml:"access_key"`
	AccessToken string `mapstructure:"access_token" yaml:"access_token"`
	UseSSL      bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// SyncConfig holds defaults for sync runs.
type SyncConfig struct {
	LoadOnly bool `mapstructure:"load_only" yaml:"load_only"`
}

// DaemonConfig controls background synchronization.
type DaemonConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	// Listen is the progress websocket address; empty disables it.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	File      string `mapstructure:"file" yaml:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// Load reads the configuration. If configFile is empty the standard
// locations are searched; a missing file is not an error.
//
// Precedence: ./.gtdsync/config.yaml (walking up from the working
// directory) > $XDG_CONFIG_HOME/gtdsync/config.yaml > ~/.gtdsync/config.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		v.SetConfigFile(expandHome(configFile))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if v.IsSet("remote.oauth_key") {
		cfg.Warnings = append(cfg.Warnings,
			"remote.oauth_key is no longer supported and is ignored; set remote.access_token")
	}

	cfg.resolvePaths()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data-dir", defaultDataDir())
	v.SetDefault("db", "")
	v.SetDefault("backup.dir", "")
	v.SetDefault("backup.keep", 10)

	v.SetDefault("remote.backend", transport.BackendDir)
	v.SetDefault("remote.dir", "~/Dropbox")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.region", "us-east-1")
	v.SetDefault("remote.access_key", "")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.use_ssl", true)

	v.SetDefault("sync.load_only", false)

	v.SetDefault("daemon.interval", "15m")
	v.SetDefault("daemon.debounce", "5s")
	v.SetDefault("daemon.listen", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
}

// resolvePaths expands ~ and fills paths derived from data-dir.
func (c *Config) resolvePaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.DB == "" {
		c.DB = filepath.Join(c.DataDir, "gtd.db")
	}
	c.DB = expandHome(c.DB)
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(c.DataDir, "backups")
	}
	c.Backup.Dir = expandHome(c.Backup.Dir)
	c.Remote.Dir = expandHome(c.Remote.Dir)
	c.Log.File = expandHome(c.Log.File)
}

// Validate reports settings that make gtdsync unusable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Remote.Backend {
	case transport.BackendDir:
		if c.Remote.Dir == "" {
			errs = append(errs, errors.New("remote.dir is required for the dir backend"))
		}
	case transport.BackendMinio, transport.BackendS3:
		if c.Remote.Bucket == "" {
			errs = append(errs, fmt.Errorf("remote.bucket is required for the %s backend", c.Remote.Backend))
		}
		if c.Remote.AccessToken == "" {
			errs = append(errs, fmt.Errorf("remote.access_token is required for the %s backend", c.Remote.Backend))
		}
		if c.Remote.Backend == transport.BackendMinio && c.Remote.Endpoint == "" {
			errs = append(errs, errors.New("remote.endpoint is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.backend %q is not one of dir, minio, s3", c.Remote.Backend))
	}
	if c.Backup.Keep < 0 {
		errs = append(errs, errors.New("backup.keep must not be negative"))
	}
	if c.Daemon.Interval < 0 || c.Daemon.Debounce < 0 {
		errs = append(errs, errors.New("daemon intervals must not be negative"))
	}
	return errors.Join(errs...)
}

// TransportOptions converts the remote settings for transport.New.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Backend:     c.Remote.Backend,
		Dir:         c.Remote.Dir,
		Endpoint:    c.Remote.Endpoint,
		Bucket:      c.Remote.Bucket,
		Region:      c.Remote.Region,
		AccessKey:   c.Remote.AccessKey,
		AccessToken: c.Remote.AccessToken,
		UseSSL:      c.Remote.UseSSL,
	}
}

// SyncLockPath is the local file lock serializing sync runs on this machine.
func (c *Config) SyncLockPath() string {
	return filepath.Join(c.DataDir, "sync.flock")
}

func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			p := filepath.Join(dir, ".gtdsync", ConfigName)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "gtdsync", ConfigName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".gtdsync", ConfigName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "gtdsync")
	}
	return "~/.local/share/gtdsync"
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
