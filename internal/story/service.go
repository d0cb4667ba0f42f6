package story

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"storyfs/internal/model"
	"storyfs/internal/sorting"
)

// MaxStoryNameLength bounds story names so folder names stay well below
// common filesystem component limits.
const MaxStoryNameLength = 200

// Service coordinates the file store and the registry for the operations the
// CLI exposes. Each method keeps the folder and its record in step; anything
// left half done (for example by a crash) is repaired by the Reconciler.
type Service struct {
	store    FileStore
	registry Registry
	logger   Logger
}

// NewService creates a Service with the provided dependencies.
func NewService(store FileStore, registry Registry, logger Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

func validateStoryName(name string) error {
	return validation.Validate(strings.TrimSpace(name),
		validation.Required,
		validation.RuneLength(1, MaxStoryNameLength),
		validation.By(func(value interface{}) error {
			if SanitizeFolderName(value.(string)) == "" {
				return ErrInvalidName
			}
			return nil
		}),
	)
}

// CreateStory creates a new story folder under the root and registers it.
// Name collisions are resolved by suffixing ("Name 2", "Name 3", ...).
func (s *Service) CreateStory(siteID, name string) (*model.StoryFolder, error) {
	if err := validateStoryName(name); err != nil {
		return nil, fmt.Errorf("story name %q: %w", name, err)
	}

	site, err := s.registry.FindSite(siteID)
	if err != nil {
		return nil, fmt.Errorf("finding site: %w", err)
	}
	if site == nil {
		return nil, fmt.Errorf("site %s: %w", siteID, ErrNotFound)
	}

	folderName := SanitizeFolderName(strings.TrimSpace(name))
	ref, err := s.store.CreateFolder(filepath.Join(s.store.Root(), folderName), true)
	if err != nil {
		return nil, fmt.Errorf("creating story folder: %w", err)
	}

	bookmark, err := s.store.Bookmark(ref.String())
	if err != nil {
		return nil, fmt.Errorf("bookmarking story folder: %w", err)
	}

	rec, err := s.registry.CreateRecord(site.ID, bookmark, ref.Name())
	if err != nil {
		// Leave nothing unregistered behind if the folder is still empty.
		if delErr := s.store.DeleteFolder(ref.String()); delErr != nil {
			s.logger.Warn("removing folder after failed registration", "path", ref.String(), "error", delErr)
		}
		return nil, fmt.Errorf("registering story folder: %w", err)
	}

	s.logger.Info("story created", "id", rec.ID, "path", ref.String())
	return rec, nil
}

// findLiveRecord returns a non-removed record or an ErrNotFound error.
func (s *Service) findLiveRecord(id string) (*model.StoryFolder, error) {
	rec, err := s.registry.FindRecord(id)
	if err != nil {
		return nil, fmt.Errorf("finding story: %w", err)
	}
	if rec == nil || rec.Removed {
		return nil, fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// ResolveStory returns the current folder path of a story. A story whose
// bookmark is stale has no folder: ErrNotFound.
func (s *Service) ResolveStory(id string) (string, error) {
	rec, err := s.findLiveRecord(id)
	if err != nil {
		return "", err
	}
	return s.resolveFolder(rec)
}

func (s *Service) resolveFolder(rec *model.StoryFolder) (string, error) {
	path, stale, err := s.store.ResolveBookmark(rec.Bookmark)
	if err != nil {
		return "", fmt.Errorf("resolving story folder: %w", err)
	}
	if stale {
		return "", fmt.Errorf("story folder %s is gone: %w", path, ErrNotFound)
	}
	return path, nil
}

// RenameStory renames the story's folder and updates its record to match.
func (s *Service) RenameStory(id, name string) (*model.StoryFolder, error) {
	if err := validateStoryName(name); err != nil {
		return nil, fmt.Errorf("story name %q: %w", name, err)
	}

	path, err := s.ResolveStory(id)
	if err != nil {
		return nil, err
	}

	ref, err := s.store.RenameFolder(path, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("renaming story folder: %w", err)
	}

	bookmark, err := s.store.Bookmark(ref.String())
	if err != nil {
		return nil, fmt.Errorf("bookmarking renamed folder: %w", err)
	}
	if err := s.registry.UpdateRecordBookmark(id, bookmark); err != nil {
		return nil, fmt.Errorf("updating bookmark: %w", err)
	}
	if err := s.registry.RenameRecord(id, ref.Name()); err != nil {
		return nil, fmt.Errorf("updating name: %w", err)
	}

	s.logger.Info("story renamed", "id", id, "path", ref.String())
	return s.registry.FindRecord(id)
}

// RemoveStory removes a story. Without deleteFolder the record is only
// flagged removed and the folder stays on disk; the next reconciliation
// purges the record and re-registers the folder as a fresh story. With
// deleteFolder the folder and the record are both deleted; a folder that no
// longer resolves, or only resolves into the trash, is left alone.
func (s *Service) RemoveStory(id string, deleteFolder bool) error {
	rec, err := s.findLiveRecord(id)
	if err != nil {
		return err
	}

	if !deleteFolder {
		if err := s.registry.MarkRecordRemoved(rec.ID); err != nil {
			return fmt.Errorf("marking story removed: %w", err)
		}
		s.logger.Info("story marked removed", "id", rec.ID)
		return nil
	}

	path, err := s.resolveFolder(rec)
	if err != nil {
		s.logger.Warn("story folder already gone, deleting the record only", "id", rec.ID, "error", err)
	} else if err := s.store.DeleteFolder(path); err != nil {
		return fmt.Errorf("deleting story folder: %w", err)
	}

	if err := s.registry.DeleteRecord(rec.ID); err != nil {
		return fmt.Errorf("deleting story record: %w", err)
	}
	s.logger.Info("story deleted", "id", rec.ID)
	return nil
}

// SetAutoSync toggles automatic upload for a story.
func (s *Service) SetAutoSync(id string, autoSync bool) error {
	if _, err := s.findLiveRecord(id); err != nil {
		return err
	}
	return s.registry.SetRecordAutoSync(id, autoSync)
}

// ListStories returns a site's live stories in the given order.
func (s *Service) ListStories(siteID string, ordering []sorting.Order) ([]*model.StoryFolder, error) {
	return s.registry.ListRecordsOrdered(siteID, ordering)
}

// StoryContents lists the entries of a story folder.
func (s *Service) StoryContents(id string) ([]*FolderRef, error) {
	path, err := s.ResolveStory(id)
	if err != nil {
		return nil, err
	}
	return s.store.ListContents(path)
}

// AddAsset copies r into the story folder under name and records the asset.
func (s *Service) AddAsset(storyID, name string, r io.Reader) (*model.Asset, error) {
	path, err := s.ResolveStory(storyID)
	if err != nil {
		return nil, err
	}

	ref, err := s.store.WriteFile(path, name, r)
	if err != nil {
		return nil, fmt.Errorf("writing asset: %w", err)
	}

	bookmark, err := s.store.Bookmark(ref.String())
	if err != nil {
		return nil, fmt.Errorf("bookmarking asset: %w", err)
	}

	asset, err := s.registry.CreateAsset(storyID, ref.Name(), model.KindForFile(ref.Name()), bookmark)
	if err != nil {
		return nil, fmt.Errorf("recording asset: %w", err)
	}

	s.logger.Info("asset added", "story", storyID, "path", ref.String(), "kind", asset.Kind)
	return asset, nil
}

// ListAssets returns the assets recorded for a story.
func (s *Service) ListAssets(storyID string) ([]*model.Asset, error) {
	if _, err := s.findLiveRecord(storyID); err != nil {
		return nil, err
	}
	return s.registry.ListAssets(storyID)
}

// GetHistory returns the most recent registry-mutating operations, newest first.
func (s *Service) GetHistory(limit int) ([]*model.Operation, error) {
	ops, err := s.registry.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
