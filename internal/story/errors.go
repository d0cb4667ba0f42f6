package story

import "errors"

var (
	// ErrOutsideRoot is returned when an operation targets a path outside the store's root.
	ErrOutsideRoot = errors.New("path is outside the story root")

	// ErrNotDirectory is returned when a folder operation targets something that is not a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFound is returned when a path, bookmark referent or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when a move or rename destination is already taken.
	ErrExists = errors.New("already exists")

	// ErrInvalidName is returned for folder names that are empty after sanitizing.
	ErrInvalidName = errors.New("invalid folder name")

	// ErrNoUsableRoot means neither the configured root nor the fallback root is a
	// writable directory. Nothing can run safely without a root.
	ErrNoUsableRoot = errors.New("no writable story root available")
)
