package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a new configuration loader for the given synchronized
// folder.
func NewLoader(rootDir string) Loader {
	return &loader{
		rootDir: rootDir,
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (TANDEM_*)
// 2. Config file (.tandem/config.yml or .tandem/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(l.rootDir, DirName))

	v.SetEnvPrefix("TANDEM")
	v.AutomaticEnv()
	// Replace . with _ in env var names (e.g., TANDEM_LOGGING_LEVEL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range envKeys {
		v.BindEnv(key)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Sync.Path == "" {
		cfg.Sync.Path = l.rootDir
	}
	abs, err := filepath.Abs(cfg.Sync.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sync path: %w", err)
	}
	cfg.Sync.Path = abs

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKeys are bound explicitly so that env-only values reach Unmarshal.
var envKeys = []string{
	"sync.path",
	"sync.db_path",

	"watcher.await_write_finish_delay",
	"watcher.initial_diff_delay",
	"watcher.incomplete_expiry",
	"watcher.overwrite_delay",
	"watcher.identical_renaming_delay",
	"watcher.local_end_delay",
	"watcher.rename_pairing_window",
	"watcher.identical_renaming",

	"ignore.patterns",

	"checksum.retries",
	"checksum.backoff",
	"checksum.cache_size",

	"logging.level",
	"logging.file",
	"logging.max_size_mb",
	"logging.max_backups",
	"logging.max_age_days",

	"flags.date_migration",
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("sync.db_path", d.Sync.DBPath)

	v.SetDefault("watcher.await_write_finish_delay", d.Watcher.AwaitWriteFinishDelay)
	v.SetDefault("watcher.initial_diff_delay", d.Watcher.InitialDiffDelay)
	v.SetDefault("watcher.incomplete_expiry", d.Watcher.IncompleteExpiry)
	v.SetDefault("watcher.overwrite_delay", d.Watcher.OverwriteDelay)
	v.SetDefault("watcher.identical_renaming_delay", d.Watcher.IdenticalRenamingDelay)
	v.SetDefault("watcher.local_end_delay", d.Watcher.LocalEndDelay)
	v.SetDefault("watcher.rename_pairing_window", d.Watcher.RenamePairingWindow)
	v.SetDefault("watcher.identical_renaming", d.Watcher.IdenticalRenaming)

	v.SetDefault("ignore.patterns", d.Ignore.Patterns)

	v.SetDefault("checksum.retries", d.Checksum.Retries)
	v.SetDefault("checksum.backoff", d.Checksum.Backoff)
	v.SetDefault("checksum.cache_size", d.Checksum.CacheSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("flags.date_migration", d.Flags.DateMigration)
}

// LoadConfig is a convenience function that loads the configuration of the
// current working directory.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads the configuration of a specific folder.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
