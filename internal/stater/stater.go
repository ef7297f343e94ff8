// Package stater snapshots filesystem metadata for the watcher pipeline.
//
// A Stats value carries what the pipeline needs to correlate events by
// identity rather than path: the inode (or the Windows file id) plus the
// size and timestamps used by the unchanged-content heuristic.
package stater

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// Kind is the type of a filesystem entry as seen by the pipeline.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindSymlink   Kind = "symlink"
	KindUnknown   Kind = "unknown"
)

// InodeKey identifies a filesystem entry independently of its path.
// The zero value means "no identity known".
type InodeKey string

// KeyFor builds the identity key from a file id and an inode number.
// The file id wins when present since it is the stable identifier on
// Windows.
func KeyFor(fileID string, ino uint64) InodeKey {
	if fileID != "" {
		return InodeKey("fid:" + fileID)
	}
	if ino != 0 {
		return InodeKey("ino:" + strconv.FormatUint(ino, 10))
	}
	return ""
}

// Stats is a platform-neutral stat snapshot.
type Stats struct {
	Ino    uint64
	FileID string // Windows only
	Size   int64
	Mode   fs.FileMode
	Mtime  time.Time
	Ctime  time.Time
}

// Dir reports whether the entry is a directory.
func (s *Stats) Dir() bool { return s.Mode.IsDir() }

// Symlink reports whether the entry is a symbolic link.
func (s *Stats) Symlink() bool { return s.Mode&fs.ModeSymlink != 0 }

// Key returns the preferred identity key (file id first, inode otherwise).
func (s *Stats) Key() InodeKey {
	if s == nil {
		return ""
	}
	return KeyFor(s.FileID, s.Ino)
}

// Keys returns every identity key of the entry, preferred first.
func (s *Stats) Keys() []InodeKey {
	if s == nil {
		return nil
	}
	var keys []InodeKey
	if s.FileID != "" {
		keys = append(keys, KeyFor(s.FileID, 0))
	}
	if s.Ino != 0 {
		keys = append(keys, KeyFor("", s.Ino))
	}
	return keys
}

// UpdateTime is the last time the content or the metadata changed, at
// millisecond precision.
func (s *Stats) UpdateTime() time.Time {
	t := s.Mtime
	if s.Ctime.After(t) {
		t = s.Ctime
	}
	return t.Truncate(time.Millisecond)
}

// Stat returns the stats of the entry at absPath without following
// symlinks.
func Stat(absPath string) (*Stats, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Size:  info.Size(),
		Mode:  info.Mode(),
		Mtime: info.ModTime(),
		Ctime: info.ModTime(),
	}
	if err := fillPlatform(absPath, info, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// StatMaybe is Stat for entries that may be gone: a missing entry yields
// (nil, nil).
func StatMaybe(absPath string) (*Stats, error) {
	stats, err := Stat(absPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return stats, err
}

// KindOf classifies stats.
func KindOf(s *Stats) Kind {
	switch {
	case s == nil:
		return KindUnknown
	case s.Symlink():
		return KindSymlink
	case s.Dir():
		return KindDirectory
	default:
		return KindFile
	}
}
