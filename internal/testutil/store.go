package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"storyfs/internal/fs"
)

// NewTestStore creates a ScopedStore rooted at a fresh temporary directory.
// Trash and fallback directories are temporary too, so nothing outside the
// test's directories is ever searched or created.
func NewTestStore(t *testing.T) *fs.ScopedStore {
	t.Helper()

	store, err := fs.NewScopedStore(t.TempDir(), fs.Options{
		FallbackRoot: filepath.Join(t.TempDir(), "fallback"),
		TrashDirs:    []string{t.TempDir()},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

// MkdirRoot creates folders directly under the store root, bypassing the registry.
func MkdirRoot(t *testing.T, store *fs.ScopedStore, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.Mkdir(filepath.Join(store.Root(), name), 0755); err != nil {
			t.Fatalf("failed to create folder %s: %v", name, err)
		}
	}
}

// RemoveRoot deletes folders directly under the store root, bypassing the registry.
func RemoveRoot(t *testing.T, store *fs.ScopedStore, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.RemoveAll(filepath.Join(store.Root(), name)); err != nil {
			t.Fatalf("failed to remove folder %s: %v", name, err)
		}
	}
}
