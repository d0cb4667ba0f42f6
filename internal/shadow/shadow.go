// Package shadow maintains the shared snapshot of sites and story folders
// that out-of-process readers, such as a share extension, use without
// opening the registry.
package shadow

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"

	"storyfs/internal/model"
	"storyfs/internal/sorting"
	"storyfs/internal/story"
)

// Snapshot is the full shadow document.
type Snapshot struct {
	GeneratedAt time.Time `toml:"generated_at"`
	Sites       []Site    `toml:"sites"`
}

// Site mirrors one registry site.
type Site struct {
	UUID    string  `toml:"uuid"`
	Title   string  `toml:"title"`
	Stories []Story `toml:"stories"`
}

// Story mirrors one live story folder record. BookmarkData is base64 so the
// file stays plain text.
type Story struct {
	UUID         string `toml:"uuid"`
	Title        string `toml:"title"`
	BookmarkData string `toml:"bookmark_data"`
}

// Bookmark returns the decoded bookmark.
func (s Story) Bookmark() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s.BookmarkData)
	if err != nil {
		return nil, fmt.Errorf("decoding bookmark of story %s: %w", s.UUID, err)
	}
	return data, nil
}

// Source is the registry view a snapshot is built from.
type Source interface {
	ListSites() ([]*model.Site, error)
	ListRecordsOrdered(siteID string, ordering []sorting.Order) ([]*model.StoryFolder, error)
}

// Build assembles a snapshot of every site and its non-removed story
// folders, ordered by ordering.
func Build(src Source, ordering []sorting.Order, now time.Time) (*Snapshot, error) {
	sites, err := src.ListSites()
	if err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}

	snap := &Snapshot{GeneratedAt: now, Sites: make([]Site, 0, len(sites))}
	for _, site := range sites {
		records, err := src.ListRecordsOrdered(site.ID, ordering)
		if err != nil {
			return nil, fmt.Errorf("listing stories of site %s: %w", site.ID, err)
		}

		s := Site{UUID: site.ID, Title: site.Name, Stories: make([]Story, 0, len(records))}
		for _, rec := range records {
			s.Stories = append(s.Stories, Story{
				UUID:         rec.ID,
				Title:        rec.Name,
				BookmarkData: base64.StdEncoding.EncodeToString(rec.Bookmark),
			})
		}
		snap.Sites = append(snap.Sites, s)
	}
	return snap, nil
}

// FindStory returns the story with the given UUID, or nil.
func (s *Snapshot) FindStory(uuid string) *Story {
	for i := range s.Sites {
		for j := range s.Sites[i].Stories {
			if s.Sites[i].Stories[j].UUID == uuid {
				return &s.Sites[i].Stories[j]
			}
		}
	}
	return nil
}

// Write replaces the snapshot at path atomically: readers see either the old
// or the new document, never a partial one.
func Write(path string, snap *Snapshot) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encoding shadow snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating shadow directory: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("writing shadow snapshot: %w", err)
	}
	// atomic.WriteFile leaves new files with the temp file's 0600 mode.
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("setting shadow snapshot permissions: %w", err)
	}
	return nil
}

// Read loads the snapshot at path.
func Read(path string) (*Snapshot, error) {
	var snap Snapshot
	if _, err := toml.DecodeFile(path, &snap); err != nil {
		return nil, fmt.Errorf("reading shadow snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Share copies r into the folder of the story with the given UUID using only
// the snapshot and the file store. The registry is not consulted.
func (s *Snapshot) Share(store story.FileStore, storyUUID, name string, r io.Reader) (*story.FolderRef, error) {
	st := s.FindStory(storyUUID)
	if st == nil {
		return nil, fmt.Errorf("story %s: %w", storyUUID, story.ErrNotFound)
	}

	bookmark, err := st.Bookmark()
	if err != nil {
		return nil, err
	}
	path, stale, err := store.ResolveBookmark(bookmark)
	if err != nil {
		return nil, fmt.Errorf("resolving story %s: %w", storyUUID, err)
	}
	if stale {
		return nil, fmt.Errorf("story %s folder is gone: %w", storyUUID, story.ErrNotFound)
	}

	ref, err := store.WriteFile(path, name, r)
	if err != nil {
		return nil, fmt.Errorf("sharing into story %s: %w", storyUUID, err)
	}
	return ref, nil
}
