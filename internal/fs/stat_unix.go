//go:build unix

package fs

import (
	"io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// identityOf extracts the device and inode numbers of info, plus the birth
// time of path where the platform and filesystem record one.
func identityOf(path string, info fs.FileInfo) (fileID, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileID{}, false
	}
	return fileID{
		Dev:   uint64(stat.Dev),
		Ino:   uint64(stat.Ino),
		Birth: birthTime(path),
	}, true
}

// isWritableDir reports whether path is a directory the process may write to.
func isWritableDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access(path, unix.W_OK) == nil
}
