package story

import "io"

// Vault stores registry snapshots away from the device.
// Each host has exactly one current snapshot; versions only move forward.
type Vault interface {
	// PutSnapshot stores the registry snapshot for hostID, replacing any
	// previous one. size is the number of bytes that will be read from r.
	PutSnapshot(hostID string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the stored snapshot for hostID to w.
	GetSnapshot(hostID string, w io.Writer) error

	// SnapshotVersion returns the stored version, or 0 if nothing is stored.
	SnapshotVersion(hostID string) (int64, error)

	// ValidateSetup verifies the vault is reachable and writable.
	ValidateSetup() error
}

// Sealer protects registry snapshots before they leave the device.
type Sealer interface {
	// GenerateKeys creates a fresh key pair, protecting the private half with passphrase.
	GenerateKeys(passphrase string) error

	// Seal returns a writer that encrypts everything written to it into w.
	// The caller must Close the writer to flush the final block.
	Seal(w io.Writer) (io.WriteCloser, error)

	// Unseal returns a reader yielding the plaintext of r.
	Unseal(r io.Reader, passphrase string) (io.Reader, error)

	// Ready reports whether keys are available for sealing.
	Ready() bool
}
