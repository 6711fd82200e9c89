// Package config loads specsync settings from a config file, the environment
// and .env files.
//
// Precedence, highest first: SPECSYNC_* environment variables (plus the
// SUPABASE_URL / SUPABASE_ANON_KEY aliases), the config file
// (specsync.toml or specsync.yaml in ./ or ./.specsync), defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/specexplorer/specsync/internal/logging"
	"github.com/specexplorer/specsync/internal/remote"
	"github.com/specexplorer/specsync/internal/sync"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPECSYNC"

// Config is the full application configuration.
type Config struct {
	DBPath    string          `mapstructure:"db_path"`
	Tenant    string          `mapstructure:"tenant"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Inbox     InboxConfig     `mapstructure:"inbox"`
	Log       LogConfig       `mapstructure:"log"`
	Export    ExportConfig    `mapstructure:"export"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// RemoteConfig selects and authenticates the remote backend.
type RemoteConfig struct {
	Kind    string        `mapstructure:"kind"`
	URL     string        `mapstructure:"url"`
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryPolicy string        `mapstructure:"retry_policy"`
	WritePolicy string        `mapstructure:"write_policy"`
}

// DashboardConfig controls the status server run by the daemon.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// InboxConfig names the directory the daemon watches for JSONL imports.
type InboxConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ExportConfig holds export destinations.
type ExportConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config locates the bucket used by `export --s3`.
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

// defaults returns the built-in configuration.
func defaults() Config {
	return Config{
		DBPath: filepath.Join(".specsync", "local.db"),
		Remote: RemoteConfig{
			Kind:    string(remote.KindREST),
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Interval:    60 * time.Second,
			MaxRetries:  sync.DefaultMaxRetries,
			RetryPolicy: string(sync.RetainForManualReview),
			WritePolicy: string(sync.WriteDirect),
		},
		Dashboard: DashboardConfig{Port: 8089},
		Inbox:     InboxConfig{Dir: filepath.Join(".specsync", "inbox")},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Export: ExportConfig{S3: S3Config{Prefix: "specsync/"}},
	}
}

func setDefaults(v *viper.Viper) {
	d := defaults()
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("tenant", d.Tenant)
	v.SetDefault("remote.kind", d.Remote.Kind)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.key", "")
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.retry_policy", d.Sync.RetryPolicy)
	v.SetDefault("sync.write_policy", d.Sync.WritePolicy)
	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("inbox.dir", d.Inbox.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("export.s3.bucket", d.Export.S3.Bucket)
	v.SetDefault("export.s3.region", d.Export.S3.Region)
	v.SetDefault("export.s3.endpoint", d.Export.S3.Endpoint)
	v.SetDefault("export.s3.prefix", d.Export.S3.Prefix)
}

// Load reads configuration. An explicit path must exist; without one the
// standard locations are searched and a missing file is not an error.
// envFiles are loaded into the environment first (".env" when none given);
// missing ones are skipped and never override variables already set.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("remote.url", EnvPrefix+"_REMOTE_URL", "SUPABASE_URL")
	_ = v.BindEnv("remote.key", EnvPrefix+"_REMOTE_KEY", "SUPABASE_ANON_KEY")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("specsync")
		v.AddConfigPath(".")
		v.AddConfigPath(".specsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	switch remote.Kind(c.Remote.Kind) {
	case remote.KindREST, remote.KindLibSQL, remote.KindPostgres, remote.KindSQLite:
	default:
		return fmt.Errorf("remote.kind: unknown backend %q", c.Remote.Kind)
	}
	if _, err := sync.ParseRetryPolicy(c.Sync.RetryPolicy); err != nil {
		return fmt.Errorf("sync.retry_policy: %w", err)
	}
	if _, err := sync.ParseWritePolicy(c.Sync.WritePolicy); err != nil {
		return fmt.Errorf("sync.write_policy: %w", err)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// RemoteOptions converts the remote section for remote.Open.
func (c *Config) RemoteOptions(logger *zap.Logger) remote.Config {
	return remote.Config{
		Kind:    remote.Kind(c.Remote.Kind),
		URL:     c.Remote.URL,
		Key:     c.Remote.Key,
		Timeout: c.Remote.Timeout,
		Logger:  logger,
	}
}

// EngineOptions converts the sync section for sync.New. Validate must have
// passed.
func (c *Config) EngineOptions(logger *zap.Logger, metrics *sync.Metrics) sync.Config {
	retry, _ := sync.ParseRetryPolicy(c.Sync.RetryPolicy)
	write, _ := sync.ParseWritePolicy(c.Sync.WritePolicy)
	return sync.Config{
		MaxRetries:  c.Sync.MaxRetries,
		RetryPolicy: retry,
		WritePolicy: write,
		Logger:      logger,
		Metrics:     metrics,
	}
}

// LogOptions converts the log section for logging.New.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		JSON:       c.Log.JSON,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// fileConfig is the on-disk shape written by WriteDefault. Durations are
// strings so the file stays human-editable.
type fileConfig struct {
	DBPath string `toml:"db_path"`
	Tenant string `toml:"tenant"`
	Remote struct {
		Kind    string `toml:"kind"`
		URL     string `toml:"url"`
		Key     string `toml:"key"`
		Timeout string `toml:"timeout"`
	} `toml:"remote"`
	Sync struct {
		Interval    string `toml:"interval"`
		MaxRetries  int    `toml:"max_retries"`
		RetryPolicy string `toml:"retry_policy"`
		WritePolicy string `toml:"write_policy"`
	} `toml:"sync"`
	Dashboard struct {
		Enabled bool `toml:"enabled"`
		Port    int  `toml:"port"`
	} `toml:"dashboard"`
	Inbox struct {
		Dir string `toml:"dir"`
	} `toml:"inbox"`
	Log struct {
		Level      string `toml:"level"`
		JSON       bool   `toml:"json"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`
	Export struct {
		S3 struct {
			Bucket   string `toml:"bucket"`
			Region   string `toml:"region"`
			Endpoint string `toml:"endpoint"`
			Prefix   string `toml:"prefix"`
		} `toml:"s3"`
	} `toml:"export"`
}

// WriteDefault writes the default configuration as TOML to path. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	d := defaults()
	var fc fileConfig
	fc.DBPath = d.DBPath
	fc.Remote.Kind = d.Remote.Kind
	fc.Remote.Timeout = d.Remote.Timeout.String()
	fc.Sync.Interval = d.Sync.Interval.String()
	fc.Sync.MaxRetries = d.Sync.MaxRetries
	fc.Sync.RetryPolicy = d.Sync.RetryPolicy
	fc.Sync.WritePolicy = d.Sync.WritePolicy
	fc.Dashboard.Port = d.Dashboard.Port
	fc.Inbox.Dir = d.Inbox.Dir
	fc.Log.Level = d.Log.Level
	fc.Log.MaxSizeMB = d.Log.MaxSizeMB
	fc.Log.MaxBackups = d.Log.MaxBackups
	fc.Log.MaxAgeDays = d.Log.MaxAgeDays
	fc.Export.S3.Prefix = d.Export.S3.Prefix

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("# specsync configuration\n# Credentials may also come from SUPABASE_URL / SUPABASE_ANON_KEY.\n\n"); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}
