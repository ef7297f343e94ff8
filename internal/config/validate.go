package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptySyncPath indicates a missing synchronized folder
	ErrEmptySyncPath = errors.New("empty sync path")

	// ErrInvalidDelay indicates a non-positive watcher delay
	ErrInvalidDelay = errors.New("invalid watcher delay")

	// ErrInvalidChecksum indicates invalid checksum settings
	ErrInvalidChecksum = errors.New("invalid checksum settings")

	// ErrInvalidLogLevel indicates an unknown log level
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidRotation indicates invalid log rotation settings
	ErrInvalidRotation = errors.New("invalid log rotation settings")
)

// Validate checks that the configuration is valid and complete. All
// problems are reported at once.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Sync.Path) == "" {
		errs = append(errs, fmt.Errorf("%w: sync.path is required", ErrEmptySyncPath))
	}
	if strings.TrimSpace(cfg.Sync.DBPath) == "" {
		errs = append(errs, fmt.Errorf("%w: sync.db_path is required", ErrEmptySyncPath))
	}

	errs = append(errs, validateWatcher(&cfg.Watcher)...)
	errs = append(errs, validateChecksum(&cfg.Checksum)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateWatcher(cfg *WatcherConfig) []error {
	var errs []error

	delays := []struct {
		key   string
		value time.Duration
	}{
		{"await_write_finish_delay", cfg.AwaitWriteFinishDelay},
		{"initial_diff_delay", cfg.InitialDiffDelay},
		{"incomplete_expiry", cfg.IncompleteExpiry},
		{"overwrite_delay", cfg.OverwriteDelay},
		{"identical_renaming_delay", cfg.IdenticalRenamingDelay},
		{"local_end_delay", cfg.LocalEndDelay},
		{"rename_pairing_window", cfg.RenamePairingWindow},
	}
	for _, d := range delays {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%w: watcher.%s must be positive, got %s", ErrInvalidDelay, d.key, d.value))
		}
	}

	return errs
}

func validateChecksum(cfg *ChecksumConfig) []error {
	var errs []error

	if cfg.Retries <= 0 {
		errs = append(errs, fmt.Errorf("%w: retries must be positive, got %d", ErrInvalidChecksum, cfg.Retries))
	}
	if cfg.Backoff <= 0 {
		errs = append(errs, fmt.Errorf("%w: backoff must be positive, got %s", ErrInvalidChecksum, cfg.Backoff))
	}
	if cfg.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: cache_size must be positive, got %d", ErrInvalidChecksum, cfg.CacheSize))
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) []error {
	var errs []error

	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: %q (valid: debug, info, warn, error)", ErrInvalidLogLevel, cfg.Level))
	}

	// Zero means "no limit" for lumberjack, negatives are meaningless.
	if cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("%w: sizes and counts cannot be negative", ErrInvalidRotation))
	}

	return errs
}
