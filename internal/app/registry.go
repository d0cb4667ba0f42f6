package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"storyfs/internal/config"
	"storyfs/internal/database"
	"storyfs/internal/encryption"
	"storyfs/internal/shadow"
	"storyfs/internal/story"
	"storyfs/internal/vault"
)

// InitKeys generates the snapshot encryption key pair, protecting the
// private key with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating sealer: %w", err)
	}
	return sealer.GenerateKeys(passphrase)
}

// RestoreRegistry replaces the local registry with the newest snapshot in
// the vault. It works without opening the app, since a registry that is
// behind the vault refuses to open. Returns the restored version.
func RestoreRegistry(cfg *config.Config, passphrase string) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite registry, have %q", cfg.Database.Type)
	}
	if len(cfg.Vaults) == 0 {
		return 0, fmt.Errorf("no vaults configured")
	}

	v, err := vault.NewVaultFromConfig(context.Background(), cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}
	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating sealer: %w", err)
	}
	return restoreRegistry(v, sealer, cfg, passphrase)
}

func restoreRegistry(v story.Vault, sealer story.Sealer, cfg *config.Config, passphrase string) (int64, error) {
	version, err := v.SnapshotVersion(cfg.HostID)
	if err != nil {
		return 0, fmt.Errorf("checking vault snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("no registry snapshot for host %s: %w", cfg.HostID, story.ErrNotFound)
	}

	dbPath := database.DatabasePath(cfg.Database, cfg.HostID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return 0, fmt.Errorf("creating data dir: %w", err)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(dbPath), ".restore-*")
	if err != nil {
		return 0, fmt.Errorf("creating restore dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	sealedPath := filepath.Join(tmpDir, "registry.db.sealed")
	if err := fetchSnapshot(v, cfg.HostID, sealedPath); err != nil {
		return 0, err
	}

	plainPath := filepath.Join(tmpDir, "registry.db")
	if err := unsealFile(sealer, sealedPath, plainPath, passphrase); err != nil {
		return 0, err
	}

	// Make sure the snapshot is a usable registry before replacing anything.
	restored, err := database.NewSQLiteDatabase(plainPath, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("opening restored registry: %w", err)
	}
	checkErr := restored.CheckMigrations()
	restored.Close()
	if checkErr != nil {
		return 0, fmt.Errorf("restored registry is unusable: %w", checkErr)
	}

	if err := os.Rename(plainPath, dbPath); err != nil {
		return 0, fmt.Errorf("replacing registry: %w", err)
	}
	return version, nil
}

func fetchSnapshot(v story.Vault, hostID, dst string) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()

	if err := v.GetSnapshot(hostID, f); err != nil {
		return fmt.Errorf("downloading registry snapshot: %w", err)
	}
	return f.Close()
}

func unsealFile(sealer story.Sealer, src, dst, passphrase string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening sealed snapshot: %w", err)
	}
	defer in.Close()

	r, err := sealer.Unseal(in, passphrase)
	if err != nil {
		return fmt.Errorf("unsealing snapshot: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating registry file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("unsealing snapshot: %w", err)
	}
	return out.Close()
}

// Share copies the file at rawPath into the story with storyUUID using only
// the shadow snapshot and the story root, the way an out-of-process share
// target does. The registry is never opened.
func Share(cfg *config.Config, rawPath, storyUUID string) (*story.FolderRef, error) {
	if cfg.Shadow.Path == "" {
		return nil, fmt.Errorf("no shadow path configured")
	}

	snap, err := shadow.Read(cfg.Shadow.Path)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg, story.NewNopLogger())
	if err != nil {
		return nil, err
	}

	f, err := os.Open(rawPath)
	if err != nil {
		return nil, fmt.Errorf("opening file to share: %w", err)
	}
	defer f.Close()

	return snap.Share(store, storyUUID, filepath.Base(rawPath), f)
}

// ReadShadow loads the shadow snapshot named by cfg.
func ReadShadow(cfg *config.Config) (*shadow.Snapshot, error) {
	if cfg.Shadow.Path == "" {
		return nil, fmt.Errorf("no shadow path configured")
	}
	return shadow.Read(cfg.Shadow.Path)
}
