// Package daemon guards a synchronized folder against concurrent watchers.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file created inside the folder's state directory.
const LockFileName = "tandem.lock"

// ErrAlreadyRunning is returned when another process already watches the
// folder.
var ErrAlreadyRunning = errors.New("another tandem process is already watching this folder")

// Singleton ensures only one watcher runs per synchronized folder, using a
// file lock in the folder's state directory.
type Singleton struct {
	path string
	lock *flock.Flock
}

// NewSingleton creates a singleton guard whose lock file lives in stateDir.
func NewSingleton(stateDir string) *Singleton {
	return &Singleton{
		path: filepath.Join(stateDir, LockFileName),
	}
}

// Path returns the lock file path.
func (s *Singleton) Path() string {
	return s.path
}

// Acquire takes the lock. It returns ErrAlreadyRunning when another
// process holds it.
func (s *Singleton) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(s.path)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	s.lock = lock
	return nil
}

// Held reports whether some process currently holds the lock, without
// taking it.
func (s *Singleton) Held() (bool, error) {
	if s.lock != nil {
		return true, nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	probe := flock.New(s.path)
	locked, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to probe lock: %w", err)
	}
	if locked {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}

// Release releases the lock (called on shutdown).
func (s *Singleton) Release() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	return err
}
