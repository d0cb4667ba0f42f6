package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disiqueira/gotree/v3"

	"storyfs/internal/config"
	"storyfs/internal/database"
	"storyfs/internal/encryption"
	"storyfs/internal/fs"
	"storyfs/internal/model"
	"storyfs/internal/shadow"
	"storyfs/internal/sorting"
	"storyfs/internal/story"
	"storyfs/internal/vault"
)

// ErrBehindVault means the vault holds a newer registry snapshot than the
// local registry. The local copy must be restored before it is written to.
var ErrBehindVault = errors.New("local registry is behind the vault")

// StoryApp is the application layer between the CLI and the story service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI arguments, and manages the registry lifecycle on Close.
type StoryApp struct {
	cfg        *config.Config
	db         *database.SQLiteDatabase
	vault      story.Vault
	sealer     story.Sealer
	store      *fs.ScopedStore
	service    *story.Service
	reconciler *story.Reconciler
	sorting    *sorting.Facility
	site       *model.Site
	logger     story.Logger
	op         *Operation
	logFile    *os.File

	changed     bool
	unsubscribe func()
}

// NewStoryApp creates a fully wired StoryApp from the given config.
// operation identifies the CLI command being run (e.g. "CreateStory", "Reconcile").
// The caller must call Close when done.
func NewStoryApp(cfg *config.Config, operation, parameters string) (*StoryApp, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := newStoryApp(cfg, logger, operation, parameters)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

// newStoryApp wires everything except the log file.
func newStoryApp(cfg *config.Config, logger story.Logger, operation, parameters string) (*StoryApp, error) {
	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(context.Background(), cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Check local registry version against the vault's snapshot version.
	remoteVersion, err := v.SnapshotVersion(cfg.HostID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking vault snapshot version: %w", err)
	}
	localMax, err := db.MaxOperationID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local registry version: %w", err)
	}
	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("%w (local=%d, vault=%d): run 'storyfs registry restore'", ErrBehindVault, localMax, remoteVersion)
	}

	a := &StoryApp{
		cfg:     cfg,
		db:      db,
		vault:   v,
		sealer:  sealer,
		store:   store,
		service: story.NewService(store, db, logger),
		logger:  logger,
		op:      NewOperation(operation, parameters),
	}
	a.unsubscribe = db.Subscribe(func(story.ChangeEvent) { a.changed = true })

	a.sorting, err = sorting.NewFacility(db, sorting.DefaultStoryKeys, sorting.DefaultStoryModes())
	if err != nil {
		a.closeDB()
		return nil, fmt.Errorf("loading sort modes: %w", err)
	}

	a.site, err = a.ensureSite(cfg.Site)
	if err != nil {
		a.closeDB()
		return nil, err
	}
	a.reconciler = story.NewReconciler(store, db, a.site.ID, logger)

	return a, nil
}

// newStore opens the scoped file store described by cfg.
func newStore(cfg *config.Config, logger story.Logger) (*fs.ScopedStore, error) {
	store, err := fs.NewScopedStore(cfg.Store.Root, fs.Options{
		TrashSegments: cfg.Store.TrashSegments,
		TrashDirs:     cfg.Store.TrashDirs,
		Ignore:        cfg.Filesystem.Ignore,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening story root: %w", err)
	}
	return store, nil
}

// ensureSite returns the configured default site, creating it on first use.
func (a *StoryApp) ensureSite(cfg config.SiteConfig) (*model.Site, error) {
	site, err := a.db.FindSiteByName(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("finding default site: %w", err)
	}
	if site != nil {
		return site, nil
	}
	site, err = a.db.CreateSite(cfg.Name, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("creating default site: %w", err)
	}
	a.logger.Info("default site created", "id", site.ID, "name", site.Name)
	return site, nil
}

// persistOperation saves the operation to the registry, giving it an auto-increment ID.
// This should only be called for registry-mutating commands.
func (a *StoryApp) persistOperation() error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate persists the operation, runs fn and records its outcome.
func (a *StoryApp) mutate(fn func() error) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	return a.op.Record(fn())
}

// Root returns the story root in use.
func (a *StoryApp) Root() string {
	return a.store.Root()
}

// DefaultSite returns the site new stories are attached to.
func (a *StoryApp) DefaultSite() *model.Site {
	return a.site
}

// resolveSite maps a site name to a site. Empty selects the default site.
func (a *StoryApp) resolveSite(name string) (*model.Site, error) {
	if name == "" {
		return a.site, nil
	}
	site, err := a.db.FindSiteByName(name)
	if err != nil {
		return nil, fmt.Errorf("finding site: %w", err)
	}
	if site == nil {
		return nil, fmt.Errorf("site %q: %w", name, story.ErrNotFound)
	}
	return site, nil
}

// Sites

// AddSite creates a site.
func (a *StoryApp) AddSite(name, url string) (*model.Site, error) {
	var site *model.Site
	err := a.mutate(func() error {
		var err error
		site, err = a.db.CreateSite(strings.TrimSpace(name), url)
		return err
	})
	return site, err
}

// ListSites returns every site.
func (a *StoryApp) ListSites() ([]*model.Site, error) {
	return a.db.ListSites()
}

// RemoveSite deletes a site with its story records and their assets. The
// story folders stay on disk and the next reconciliation adopts them into
// the default site. The default site itself cannot be removed.
func (a *StoryApp) RemoveSite(id string) error {
	if id == a.site.ID {
		return fmt.Errorf("cannot remove the default site %q", a.site.Name)
	}
	return a.mutate(func() error {
		return a.db.DeleteSite(id)
	})
}

// Stories

// CreateStory creates a story folder in the named site ("" for the default site).
func (a *StoryApp) CreateStory(name, siteName string) (*model.StoryFolder, error) {
	var rec *model.StoryFolder
	err := a.mutate(func() error {
		site, err := a.resolveSite(siteName)
		if err != nil {
			return err
		}
		rec, err = a.service.CreateStory(site.ID, name)
		return err
	})
	return rec, err
}

// ListStories lists a site's stories using sort mode modeIndex, or the
// selected mode when modeIndex is negative.
func (a *StoryApp) ListStories(siteName string, modeIndex int) ([]*model.StoryFolder, error) {
	site, err := a.resolveSite(siteName)
	if err != nil {
		return nil, err
	}

	ordering := a.sorting.Ordering()
	if modeIndex >= 0 {
		mode, err := a.sorting.Mode(modeIndex)
		if err != nil {
			return nil, err
		}
		ordering = sorting.OrderingFor(mode)
	}
	return a.service.ListStories(site.ID, ordering)
}

// StoryTree renders every site with its stories and their contents.
func (a *StoryApp) StoryTree() (string, error) {
	sites, err := a.db.ListSites()
	if err != nil {
		return "", err
	}

	tree := gotree.New(a.store.Root())
	for _, site := range sites {
		siteNode := tree.Add(site.Name)

		stories, err := a.service.ListStories(site.ID, a.sorting.Ordering())
		if err != nil {
			return "", err
		}
		for _, rec := range stories {
			path, err := a.service.ResolveStory(rec.ID)
			if err != nil {
				siteNode.Add(rec.Name + " (missing)")
				continue
			}
			storyNode := siteNode.Add(filepath.Base(path))

			entries, err := a.store.ListContents(path)
			if err != nil {
				a.logger.Warn("listing story contents failed", "path", path, "error", err)
				continue
			}
			for _, e := range entries {
				label := e.Name()
				if e.IsDir() {
					label += "/"
				}
				storyNode.Add(label)
			}
		}
	}
	return tree.Print(), nil
}

// RenameStory renames a story and its folder.
func (a *StoryApp) RenameStory(id, name string) (*model.StoryFolder, error) {
	var rec *model.StoryFolder
	err := a.mutate(func() error {
		var err error
		rec, err = a.service.RenameStory(id, name)
		return err
	})
	return rec, err
}

// RemoveStory removes a story, deleting its folder too when deleteFolder is set.
func (a *StoryApp) RemoveStory(id string, deleteFolder bool) error {
	return a.mutate(func() error {
		return a.service.RemoveStory(id, deleteFolder)
	})
}

// SetAutoSync toggles automatic upload for a story.
func (a *StoryApp) SetAutoSync(id string, autoSync bool) error {
	return a.mutate(func() error {
		return a.service.SetAutoSync(id, autoSync)
	})
}

// ResolveStory returns a story's current folder path.
func (a *StoryApp) ResolveStory(id string) (string, error) {
	return a.service.ResolveStory(id)
}

// Assets

// AddAsset copies the file at rawPath into a story folder.
func (a *StoryApp) AddAsset(storyID, rawPath string) (*model.Asset, error) {
	var asset *model.Asset
	err := a.mutate(func() error {
		f, err := os.Open(rawPath)
		if err != nil {
			return fmt.Errorf("opening asset: %w", err)
		}
		defer f.Close()

		asset, err = a.service.AddAsset(storyID, filepath.Base(rawPath), f)
		return err
	})
	return asset, err
}

// ListAssets returns a story's assets.
func (a *StoryApp) ListAssets(storyID string) ([]*model.Asset, error) {
	return a.service.ListAssets(storyID)
}

// Reconciliation

// Reconcile repairs drift between the story root and the registry.
func (a *StoryApp) Reconcile() (*story.ReconcileReport, error) {
	var report *story.ReconcileReport
	err := a.mutate(func() error {
		var err error
		report, err = a.reconciler.Reconcile()
		if err != nil {
			return err
		}
		a.op.Summary = report.String()
		if report.Failures > 0 {
			a.op.Status = "error"
		}
		return nil
	})
	return report, err
}

// HasInconsistencies reports whether a reconciliation would change anything.
func (a *StoryApp) HasInconsistencies() (bool, error) {
	return a.reconciler.HasInconsistencies()
}

// Sorting

// SortModes returns the sort modes and the selected index.
func (a *StoryApp) SortModes() ([]sorting.Mode, int) {
	return a.sorting.Modes(), a.sorting.SelectedIndex()
}

// SelectSortMode selects the sort mode at index.
func (a *StoryApp) SelectSortMode(index int) error {
	return a.mutate(func() error {
		return a.sorting.SelectMode(index)
	})
}

// SetSortRule sets field's direction in the sort mode at index.
func (a *StoryApp) SetSortRule(index int, field string, ascending bool) error {
	return a.mutate(func() error {
		return a.sorting.UpdateRule(index, field, ascending)
	})
}

// History

// GetHistory returns the most recent registry-mutating operations.
func (a *StoryApp) GetHistory(limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(limit)
}

// Shadow snapshot

// WriteShadow rewrites the shared shadow snapshot from the registry.
func (a *StoryApp) WriteShadow() error {
	if a.cfg.Shadow.Path == "" {
		return fmt.Errorf("no shadow path configured")
	}
	snap, err := shadow.Build(a.db, a.sorting.Ordering(), time.Now().UTC())
	if err != nil {
		return err
	}
	if err := shadow.Write(a.cfg.Shadow.Path, snap); err != nil {
		return err
	}
	a.logger.Debug("shadow snapshot written", "path", a.cfg.Shadow.Path)
	return nil
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, backs up the
// registry, and uploads the sealed copy to the vault.
// Whenever the registry changed the shadow snapshot is rewritten first.
func (a *StoryApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status, a.op.Summary); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}
	}

	if a.changed && a.cfg.Shadow.Path != "" {
		if err := a.WriteShadow(); err != nil {
			errs = append(errs, fmt.Errorf("writing shadow snapshot: %w", err))
		}
	}

	if a.op.Persisted() {
		if err := a.snapshotToVault(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return errors.Join(errs...)
}

func (a *StoryApp) closeDB() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	return a.db.Close()
}

// snapshotToVault copies the registry with VACUUM INTO, seals the copy and
// uploads it with the operation ID as version.
func (a *StoryApp) snapshotToVault() error {
	if a.db.Path() == ":memory:" {
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "storyfs-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for registry snapshot: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plainPath := filepath.Join(tmpDir, "registry.db")
	if err := a.db.BackupTo(plainPath); err != nil {
		return err
	}

	sealedPath := filepath.Join(tmpDir, "registry.db.sealed")
	if err := sealFile(a.sealer, plainPath, sealedPath); err != nil {
		return err
	}

	f, err := os.Open(sealedPath)
	if err != nil {
		return fmt.Errorf("opening sealed snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat sealed snapshot: %w", err)
	}

	if err := a.vault.PutSnapshot(a.cfg.HostID, f, info.Size(), a.op.ID); err != nil {
		return fmt.Errorf("uploading registry snapshot: %w", err)
	}
	a.logger.Info("registry snapshot stored", "version", a.op.ID, "size", info.Size())
	return nil
}

// sealFile writes the sealed form of src to dst.
func sealFile(sealer story.Sealer, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening registry copy: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating sealed snapshot: %w", err)
	}
	defer out.Close()

	w, err := sealer.Seal(out)
	if err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	return out.Close()
}
