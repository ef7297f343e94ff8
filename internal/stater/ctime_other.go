//go:build !windows && !linux && !darwin && !freebsd && !netbsd

package stater

import (
	"syscall"
	"time"
)

// Platforms without a portable ctime field fall back to the mtime already
// stored on the snapshot.
func changeTime(*syscall.Stat_t) (time.Time, bool) {
	return time.Time{}, false
}
