package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"storyfs/internal/story"
)

// FileSystemVault stores registry snapshots in a directory, typically on an
// external or network drive:
//
//	<root>/
//	  snapshots/
//	    <hostID>.db        (sealed registry snapshot)
//	    <hostID>.version   (operation ID the snapshot was taken at)
type FileSystemVault struct {
	name         string
	root         string
	snapshotsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotsDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	return &FileSystemVault{
		name:         name,
		root:         root,
		snapshotsDir: snapshotsDir,
	}, nil
}

func (v *FileSystemVault) snapshotPath(hostID string) string {
	return filepath.Join(v.snapshotsDir, hostID+".db")
}

func (v *FileSystemVault) versionPath(hostID string) string {
	return filepath.Join(v.snapshotsDir, hostID+".version")
}

// PutSnapshot stores the snapshot and then its version marker. A reader
// never sees a version newer than the snapshot next to it.
func (v *FileSystemVault) PutSnapshot(hostID string, r io.Reader, size int64, version int64) error {
	if err := v.writeFile(v.snapshotPath(hostID), r, size); err != nil {
		return err
	}
	data := strings.NewReader(strconv.FormatInt(version, 10))
	return v.writeFile(v.versionPath(hostID), data, data.Size())
}

// SnapshotVersion returns the stored version, 0 if no version file exists.
func (v *FileSystemVault) SnapshotVersion(hostID string) (int64, error) {
	data, err := os.ReadFile(v.versionPath(hostID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetSnapshot writes the stored snapshot for hostID to w.
func (v *FileSystemVault) GetSnapshot(hostID string, w io.Writer) error {
	f, err := os.Open(v.snapshotPath(hostID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot for host %s: %w", hostID, story.ErrNotFound)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the snapshots directory exists and is writable.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.snapshotsDir)
	if err != nil {
		return fmt.Errorf("vault directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault path is not a directory: %s", v.snapshotsDir)
	}

	probe, err := os.CreateTemp(v.snapshotsDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// writeFile writes r to destPath through a temp file and rename, so a crash
// never leaves a truncated snapshot behind.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ story.Vault = (*FileSystemVault)(nil)
