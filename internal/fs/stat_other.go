//go:build !unix

package fs

import (
	"io/fs"
	"os"
)

// identityOf is unavailable without unix stat data; bookmarks then fall back
// to their recorded path only.
func identityOf(path string, info fs.FileInfo) (fileID, bool) {
	return fileID{}, false
}

// isWritableDir probes writability by creating and removing a temp file.
func isWritableDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(path, ".storyfs-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
