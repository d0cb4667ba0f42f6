package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"storyfs/internal/story"
)

func TestMemoryVault_Snapshot(t *testing.T) {
	t.Run("stores and retrieves snapshot with version", func(t *testing.T) {
		v := NewMemoryVault("test")

		if err := v.PutSnapshot("host-1", strings.NewReader("registry"), 8, 3); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.GetSnapshot("host-1", &buf); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if buf.String() != "registry" {
			t.Errorf("GetSnapshot() = %q, want %q", buf.String(), "registry")
		}

		version, err := v.SnapshotVersion("host-1")
		if err != nil {
			t.Fatalf("SnapshotVersion() error = %v", err)
		}
		if version != 3 {
			t.Errorf("SnapshotVersion() = %d, want 3", version)
		}
	})

	t.Run("replaces previous snapshot", func(t *testing.T) {
		v := NewMemoryVault("test")
		v.PutSnapshot("host-1", strings.NewReader("old"), 3, 1)
		v.PutSnapshot("host-1", strings.NewReader("new"), 3, 2)

		var buf bytes.Buffer
		v.GetSnapshot("host-1", &buf)
		if buf.String() != "new" {
			t.Errorf("GetSnapshot() = %q, want new", buf.String())
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		v := NewMemoryVault("test")
		if err := v.PutSnapshot("host-1", strings.NewReader("abc"), 10, 1); err == nil {
			t.Error("PutSnapshot() expected size mismatch error")
		}
		if version, _ := v.SnapshotVersion("host-1"); version != 0 {
			t.Errorf("SnapshotVersion() = %d after failed put, want 0", version)
		}
	})

	t.Run("unknown host", func(t *testing.T) {
		v := NewMemoryVault("test")
		var buf bytes.Buffer
		if err := v.GetSnapshot("nobody", &buf); !errors.Is(err, story.ErrNotFound) {
			t.Errorf("GetSnapshot() error = %v, want ErrNotFound", err)
		}
		if version, err := v.SnapshotVersion("nobody"); err != nil || version != 0 {
			t.Errorf("SnapshotVersion() = %d, %v; want 0, nil", version, err)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := NewMemoryVault("test").ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}
