//go:build windows

package stater

import (
	"fmt"
	"io/fs"

	"golang.org/x/sys/windows"
)

func fillPlatform(absPath string, _ fs.FileInfo, stats *Stats) error {
	id, err := fileID(absPath)
	if err != nil {
		return fmt.Errorf("failed to read file id of %s: %w", absPath, err)
	}
	stats.FileID = id
	return nil
}

// fileID returns the volume-qualified NTFS file index, which survives
// renames within a volume.
func fileID(absPath string) (string, error) {
	p, err := windows.UTF16PtrFromString(absPath)
	if err != nil {
		return "", err
	}
	h, err := windows.CreateFile(
		p,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OPEN_REPARSE_POINT,
		0,
	)
	if err != nil {
		return "", err
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return "", err
	}
	index := uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow)
	return fmt.Sprintf("%08x-%016x", info.VolumeSerialNumber, index), nil
}
