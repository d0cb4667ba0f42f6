package story

import (
	"io/fs"
	"path/filepath"
)

// FolderRef is a live reference to an entry inside the store's root.
// FolderRefs are produced by FileStore implementations after the path has been
// resolved to its real location (symlinks evaluated) and stat'ed.
type FolderRef struct {
	absPath string
	isDir   bool
	info    fs.FileInfo
}

// NewFolderRef creates a FolderRef from its components.
// This is primarily for use by FileStore implementations.
func NewFolderRef(absPath string, isDir bool, info fs.FileInfo) *FolderRef {
	return &FolderRef{
		absPath: absPath,
		isDir:   isDir,
		info:    info,
	}
}

// String returns the absolute path.
func (r *FolderRef) String() string {
	return r.absPath
}

// Name returns the last element of the path.
func (r *FolderRef) Name() string {
	return filepath.Base(r.absPath)
}

// IsDir returns true if the reference points to a directory.
func (r *FolderRef) IsDir() bool {
	return r.isDir
}

// Info returns the file info captured when the reference was created.
func (r *FolderRef) Info() fs.FileInfo {
	return r.info
}
