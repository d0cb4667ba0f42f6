package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"storyfs/internal/config"
	"storyfs/internal/story"
)

// AgeSealer seals registry snapshots with filippo.io/age X25519 keys.
// The public key is stored in plaintext so snapshots can be sealed without
// user interaction; the private key is encrypted with the user's passphrase
// using age's scrypt recipient and is only needed for a restore.
type AgeSealer struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ story.Sealer = (*AgeSealer)(nil)

// NewAgeSealer creates an AgeSealer from configuration.
func NewAgeSealer(cfg config.EncryptionConfig) *AgeSealer {
	return &AgeSealer{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// GenerateKeys creates a new key pair. Existing keys are never replaced:
// snapshots sealed with them would become unreadable.
func (s *AgeSealer) GenerateKeys(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if s.Ready() {
		return fmt.Errorf("keys already exist at %s", s.publicKeyPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{s.publicKeyPath, s.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	if err := os.WriteFile(s.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(s.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}
	return nil
}

// Seal returns a writer that encrypts to the stored public key.
func (s *AgeSealer) Seal(w io.Writer) (io.WriteCloser, error) {
	recipient, err := s.loadRecipient()
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}
	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	return encWriter, nil
}

// Unseal unlocks the private key with passphrase and returns a reader
// yielding the plaintext of r.
func (s *AgeSealer) Unseal(r io.Reader, passphrase string) (io.Reader, error) {
	identity, err := s.unlock(passphrase)
	if err != nil {
		return nil, err
	}
	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	return decReader, nil
}

// Ready returns true if both key files exist.
func (s *AgeSealer) Ready() bool {
	if _, err := os.Stat(s.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(s.privateKeyPath); err != nil {
		return false
	}
	return true
}

func (s *AgeSealer) unlock(passphrase string) (age.Identity, error) {
	privData, err := os.ReadFile(s.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(decReader)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	return identities[0], nil
}

func (s *AgeSealer) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}
