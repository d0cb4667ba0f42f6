package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"storyfs/internal/story"
)

// MemoryVault keeps registry snapshots in memory. It is useful for tests and
// for the "memory" vault type. Safe for concurrent use.
type MemoryVault struct {
	name      string
	snapshots map[string][]byte // hostID -> snapshot
	versions  map[string]int64  // hostID -> version
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string][]byte),
		versions:  make(map[string]int64),
	}
}

// PutSnapshot stores the snapshot for hostID, replacing any previous one.
func (m *MemoryVault) PutSnapshot(hostID string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[hostID] = data
	m.versions[hostID] = version
	return nil
}

// GetSnapshot writes the stored snapshot for hostID to w.
func (m *MemoryVault) GetSnapshot(hostID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[hostID]
	if !ok {
		return fmt.Errorf("snapshot for host %s: %w", hostID, story.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the stored version, 0 if nothing is stored.
func (m *MemoryVault) SnapshotVersion(hostID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[hostID], nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ story.Vault = (*MemoryVault)(nil)
