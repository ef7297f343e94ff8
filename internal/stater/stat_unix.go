//go:build !windows

package stater

import (
	"io/fs"
	"syscall"
)

func fillPlatform(_ string, info fs.FileInfo, stats *Stats) error {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	stats.Ino = uint64(st.Ino)
	if ctime, ok := changeTime(st); ok {
		stats.Ctime = ctime
	}
	return nil
}
