// Package config provides configuration loading for tandem.
//
// Configuration lives in <sync folder>/.tandem/config.yml and can be
// overridden with TANDEM_* environment variables (nested keys use
// underscores, e.g. TANDEM_WATCHER_OVERWRITE_DELAY=1s).
//
// Priority (highest to lowest):
//  1. Environment variables (TANDEM_*)
//  2. Config file (.tandem/config.yml)
//  3. Built-in defaults
package config

import (
	"path/filepath"
	"runtime"
	"time"
)

// DirName is the per-folder directory holding tandem's own files. The
// watcher never synchronizes it.
const DirName = ".tandem"

// Config represents the complete tandem configuration.
type Config struct {
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
	Watcher  WatcherConfig  `yaml:"watcher" mapstructure:"watcher"`
	Ignore   IgnoreConfig   `yaml:"ignore" mapstructure:"ignore"`
	Checksum ChecksumConfig `yaml:"checksum" mapstructure:"checksum"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Flags    FlagsConfig    `yaml:"flags" mapstructure:"flags"`
}

// SyncConfig locates the synchronized folder and its database.
type SyncConfig struct {
	Path   string `yaml:"path" mapstructure:"path"`       // synchronized folder, defaults to the loader root
	DBPath string `yaml:"db_path" mapstructure:"db_path"` // relative paths are resolved against Path
}

// WatcherConfig tunes the local change pipeline.
type WatcherConfig struct {
	AwaitWriteFinishDelay  time.Duration `yaml:"await_write_finish_delay" mapstructure:"await_write_finish_delay"`
	InitialDiffDelay       time.Duration `yaml:"initial_diff_delay" mapstructure:"initial_diff_delay"`
	IncompleteExpiry       time.Duration `yaml:"incomplete_expiry" mapstructure:"incomplete_expiry"`
	OverwriteDelay         time.Duration `yaml:"overwrite_delay" mapstructure:"overwrite_delay"`
	IdenticalRenamingDelay time.Duration `yaml:"identical_renaming_delay" mapstructure:"identical_renaming_delay"`
	LocalEndDelay          time.Duration `yaml:"local_end_delay" mapstructure:"local_end_delay"`
	RenamePairingWindow    time.Duration `yaml:"rename_pairing_window" mapstructure:"rename_pairing_window"`
	IdenticalRenaming      bool          `yaml:"identical_renaming" mapstructure:"identical_renaming"` // case/Unicode-insensitive filesystem fixes
}

// IgnoreConfig adds ignore rules on top of the defaults and .tandemignore.
type IgnoreConfig struct {
	Patterns []string `yaml:"patterns" mapstructure:"patterns"`
}

// ChecksumConfig tunes content hashing.
type ChecksumConfig struct {
	Retries   int           `yaml:"retries" mapstructure:"retries"`       // attempts on busy files
	Backoff   time.Duration `yaml:"backoff" mapstructure:"backoff"`       // doubled after each attempt
	CacheSize int           `yaml:"cache_size" mapstructure:"cache_size"` // cached checksums
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"` // empty disables the log file
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// FlagsConfig holds the initial value of one-shot feature flags. Their
// current value is persisted by FlagStore.
type FlagsConfig struct {
	DateMigration bool `yaml:"date_migration" mapstructure:"date_migration"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			DBPath: filepath.Join(DirName, "tandem.db"),
		},
		Watcher: WatcherConfig{
			AwaitWriteFinishDelay:  200 * time.Millisecond,
			InitialDiffDelay:       200 * time.Millisecond,
			IncompleteExpiry:       3 * time.Second,
			OverwriteDelay:         500 * time.Millisecond,
			IdenticalRenamingDelay: 500 * time.Millisecond,
			LocalEndDelay:          time.Second,
			RenamePairingWindow:    50 * time.Millisecond,
			IdenticalRenaming:      runtime.GOOS == "darwin" || runtime.GOOS == "windows",
		},
		Ignore: IgnoreConfig{
			Patterns: []string{},
		},
		Checksum: ChecksumConfig{
			Retries:   5,
			Backoff:   500 * time.Millisecond,
			CacheSize: 10_000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       filepath.Join(DirName, "logs", "tandem.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DBPath returns the absolute database path.
func (c *Config) DBPath() string {
	return c.resolve(c.Sync.DBPath)
}

// LogFile returns the absolute log file path, or "" when disabled.
func (c *Config) LogFile() string {
	if c.Logging.File == "" {
		return ""
	}
	return c.resolve(c.Logging.File)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Sync.Path, p)
}
