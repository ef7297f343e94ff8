package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mvp-joe/tandem/internal/checksum"
	"github.com/mvp-joe/tandem/internal/config"
	"github.com/mvp-joe/tandem/internal/ignore"
	"github.com/mvp-joe/tandem/internal/logging"
	"github.com/mvp-joe/tandem/internal/merge"
	"github.com/mvp-joe/tandem/internal/storage"
	"github.com/mvp-joe/tandem/internal/watcher"
)

// folder bundles everything a command needs to work on one synchronized
// folder.
type folder struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.Store
	flags  *config.FlagStore
	ignore *ignore.Matcher

	closers []io.Closer
}

// resolveDir returns the absolute folder path from the --dir flag value,
// defaulting to the working directory.
func resolveDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to open folder: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// openFolder loads the configuration of dir and opens its store. The log
// file is only written when logToFile is set, read-only commands log to
// stderr.
func openFolder(dir string, logToFile bool) (*folder, error) {
	root, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logOpts := logging.Options{
		Level:      cfg.Logging.Level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}
	if verbose {
		logOpts.Level = "debug"
	}
	if logToFile {
		logOpts.File = cfg.LogFile()
	}
	logger, logCloser, err := logging.New(logOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	f := &folder{cfg: cfg, log: logger, closers: []io.Closer{logCloser}}

	f.flags, err = config.LoadFlags(cfg.Sync.Path, cfg.Flags)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.ignore, err = ignore.Load(cfg.Sync.Path, cfg.Ignore.Patterns)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.store, err = storage.Open(cfg.DBPath(), logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.closers = append(f.closers, f.store)

	return f, nil
}

// stateDir is the folder's own directory, never synchronized.
func (f *folder) stateDir() string {
	return filepath.Join(f.cfg.Sync.Path, config.DirName)
}

// newWatcher wires the local change pipeline of the folder. The
// checksummer is closed with the folder.
func (f *folder) newWatcher() (*watcher.ChannelWatcher, error) {
	sums, err := checksum.New(checksum.Options{
		Retries:   f.cfg.Checksum.Retries,
		Backoff:   f.cfg.Checksum.Backoff,
		CacheSize: f.cfg.Checksum.CacheSize,
		Logger:    f.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checksummer: %w", err)
	}
	f.closers = append(f.closers, closerFunc(sums.Close))

	backend := watcher.NewFSNotifyBackend(watcher.FSNotifyOptions{
		Exclude:             []string{config.DirName},
		RenamePairingWindow: f.cfg.Watcher.RenamePairingWindow,
		Logger:              f.log,
	})

	return watcher.New(watcher.Options{
		Root:        f.cfg.Sync.Path,
		Store:       f.store,
		Merger:      merge.New(f.store, f.log),
		Checksummer: sums,
		Backend:     backend,
		Ignore:      f.ignore,
		Flags:       f.flags,
		Config:      f.cfg.Watcher,
		Logger:      f.log,
	})
}

// Close releases the folder resources in reverse order of acquisition.
func (f *folder) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i].Close())
	}
	f.closers = nil
	return errors.Join(errs...)
}

type closerFunc func()

func (fn closerFunc) Close() error {
	fn()
	return nil
}
