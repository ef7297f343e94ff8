package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Config System:
// - Default() returns valid configuration with all expected defaults
// - Load() uses defaults when no config file exists
// - Load() reads .tandem/config.yml and merges it with defaults
// - Environment variables override config file values
// - Load() returns error for malformed YAML
// - Load() returns error for invalid configuration values
// - Validate() accepts the defaults
// - Validate() rejects non-positive delays, bad checksum settings, unknown log levels
// - Validate() reports multiple errors at once
// - DBPath() and LogFile() resolve relative paths against the sync folder
// - FlagStore persists flags and falls back to defaults

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, DirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0644))
}

func TestDefault_ReturnsValidConfiguration(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, 200*time.Millisecond, cfg.Watcher.AwaitWriteFinishDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Watcher.InitialDiffDelay)
	assert.Equal(t, 3*time.Second, cfg.Watcher.IncompleteExpiry)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.OverwriteDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.IdenticalRenamingDelay)
	assert.Equal(t, time.Second, cfg.Watcher.LocalEndDelay)

	assert.Equal(t, 5, cfg.Checksum.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Checksum.Backoff)
	assert.Equal(t, "info", cfg.Logging.Level)

	cfg.Sync.Path = "/sync"
	assert.NoError(t, Validate(cfg))
}

func TestLoad_DefaultsWhenNoConfigFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)

	abs, err := filepath.Abs(root)
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.Sync.Path)
	assert.Equal(t, Default().Watcher, cfg.Watcher)
	assert.Equal(t, filepath.Join(abs, DirName, "tandem.db"), cfg.DBPath())
}

func TestLoad_MergesConfigFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeConfig(t, root, `
watcher:
  overwrite_delay: 2s
  identical_renaming: true
ignore:
  patterns:
    - "*.bak"
logging:
  level: debug
  file: ""
`)

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Watcher.OverwriteDelay)
	assert.True(t, cfg.Watcher.IdenticalRenaming)
	// Untouched keys keep their defaults
	assert.Equal(t, 3*time.Second, cfg.Watcher.IncompleteExpiry)
	assert.Equal(t, []string{"*.bak"}, cfg.Ignore.Patterns)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Empty(t, cfg.LogFile())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Note: Cannot use t.Parallel() with t.Setenv()
	root := t.TempDir()
	writeConfig(t, root, `
logging:
  level: debug
checksum:
  retries: 2
`)

	t.Setenv("TANDEM_LOGGING_LEVEL", "error")
	t.Setenv("TANDEM_WATCHER_LOCAL_END_DELAY", "5s")

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Watcher.LocalEndDelay)
	assert.Equal(t, 2, cfg.Checksum.Retries)
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeConfig(t, root, "watcher: [unclosed\n")

	_, err := NewLoader(root).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeConfig(t, root, `
logging:
  level: loud
`)

	_, err := NewLoader(root).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.Sync.Path = "/sync"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty sync path", func(c *Config) { c.Sync.Path = " " }, ErrEmptySyncPath},
		{"zero delay", func(c *Config) { c.Watcher.OverwriteDelay = 0 }, ErrInvalidDelay},
		{"negative expiry", func(c *Config) { c.Watcher.IncompleteExpiry = -time.Second }, ErrInvalidDelay},
		{"zero retries", func(c *Config) { c.Checksum.Retries = 0 }, ErrInvalidChecksum},
		{"zero cache", func(c *Config) { c.Checksum.CacheSize = 0 }, ErrInvalidChecksum},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
		{"negative rotation", func(c *Config) { c.Logging.MaxBackups = -1 }, ErrInvalidRotation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), tt.wantErr)
		})
	}
}

// Test: Validate() reports multiple errors at once
func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Sync.Path = "/sync"
	cfg.Watcher.InitialDiffDelay = 0
	cfg.Logging.Level = "nope"

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDelay)
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}

func TestConfig_ResolvesPaths(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Sync.Path = "/sync"
	cfg.Sync.DBPath = "/var/lib/tandem.db"

	assert.Equal(t, "/var/lib/tandem.db", cfg.DBPath())
	assert.Equal(t, filepath.Join("/sync", DirName, "logs", "tandem.log"), cfg.LogFile())
}

func TestFlagStore(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	flags, err := LoadFlags(root, FlagsConfig{DateMigration: true})
	require.NoError(t, err)
	assert.True(t, flags.IsFlagActive(FlagDateMigration))
	assert.False(t, flags.IsFlagActive("unknown"))

	require.NoError(t, flags.SetFlag(FlagDateMigration, false))
	assert.False(t, flags.IsFlagActive(FlagDateMigration))
	assert.FileExists(t, filepath.Join(root, DirName, FlagsFileName))

	// The persisted value wins over the default on reload
	reloaded, err := LoadFlags(root, FlagsConfig{DateMigration: true})
	require.NoError(t, err)
	assert.False(t, reloaded.IsFlagActive(FlagDateMigration))
}
