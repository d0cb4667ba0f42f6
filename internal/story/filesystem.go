package story

import "io"

// FileStore provides sandboxed filesystem operations beneath a single root.
// Every mutating method refuses paths outside the root's subtree and returns
// ErrOutsideRoot without touching the filesystem. Relative paths resolve
// against the store's current folder.
type FileStore interface {
	// Root returns the canonical absolute root directory.
	Root() string

	// FolderExists reports whether path exists and is a directory.
	FolderExists(path string) bool

	// CreateFolder creates a folder. When the target exists and appendSuffix is
	// false, the existing folder is returned. When appendSuffix is true, the
	// first free "Name N" (N >= 2) is used instead.
	CreateFolder(path string, appendSuffix bool) (*FolderRef, error)

	// RenameFolder renames source to the sanitized newName within its parent,
	// suffixing on collision, and returns the new reference.
	RenameFolder(source, newName string) (*FolderRef, error)

	// DeleteFolder removes a directory strictly inside the root.
	DeleteFolder(path string) error

	// ListFolders lists the immediate, non-hidden child directories of path.
	ListFolders(path string) ([]*FolderRef, error)

	// ListContents lists every immediate, non-hidden child of path.
	ListContents(path string) ([]*FolderRef, error)

	// WriteFile copies r into a new file called name inside folder,
	// suffixing the file name on collision.
	WriteFile(folder, name string, r io.Reader) (*FolderRef, error)

	// Bookmark returns a durable reference for path that survives renames.
	Bookmark(path string) ([]byte, error)

	// ResolveBookmark returns the current path of a bookmark's referent and
	// whether the bookmark is stale (moved, or sitting in a trash location).
	ResolveBookmark(data []byte) (path string, stale bool, err error)

	// IsTrashed reports whether path lies in a trash or recycle location.
	IsTrashed(path string) bool
}
