package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"storyfs/internal/story"
)

const (
	bookmarkVersion = 1

	// maxSearchDepth bounds the identity search through trash locations.
	// A trashed story folder normally sits a level or two down.
	maxSearchDepth = 4
)

// bookmark is the decoded form of the opaque token handed to the registry.
// The path is stored relative to the root so the whole root can be relocated.
type bookmark struct {
	Version int    `json:"v"`
	Path    string `json:"path"`
	IsDir   bool   `json:"dir"`
	ID      fileID `json:"id"`
}

func decodeBookmark(data []byte) (*bookmark, error) {
	var bm bookmark
	if err := json.Unmarshal(data, &bm); err != nil {
		return nil, fmt.Errorf("decoding bookmark: %w", err)
	}
	if bm.Version != bookmarkVersion {
		return nil, fmt.Errorf("unsupported bookmark version %d", bm.Version)
	}
	return &bm, nil
}

// matches reports whether the item at path, described by info, is the
// bookmarked item. Birth times are compared only when both sides have one.
func (bm *bookmark) matches(path string, info iofs.FileInfo) bool {
	if info.IsDir() != bm.IsDir {
		return false
	}
	if !bm.ID.valid() {
		return true
	}
	id, ok := identityOf(path, info)
	if !ok || id.Dev != bm.ID.Dev || id.Ino != bm.ID.Ino {
		return false
	}
	return bm.ID.Birth == 0 || id.Birth == 0 || id.Birth == bm.ID.Birth
}

// Bookmark returns a durable reference for path. path must be the root or
// inside it.
func (s *ScopedStore) Bookmark(path string) ([]byte, error) {
	target := realPath(s.abs(path))
	if !s.inScope(target) {
		return nil, s.refuse("bookmark", target)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("bookmark %s: %w", target, story.ErrNotFound)
	}

	rel, err := filepath.Rel(s.root, target)
	if err != nil {
		return nil, fmt.Errorf("computing root-relative path: %w", err)
	}

	bm := bookmark{
		Version: bookmarkVersion,
		Path:    filepath.ToSlash(rel),
		IsDir:   info.IsDir(),
	}
	if id, ok := identityOf(target, info); ok {
		bm.ID = id
	}

	data, err := json.Marshal(bm)
	if err != nil {
		return nil, fmt.Errorf("encoding bookmark: %w", err)
	}
	return data, nil
}

// ResolveBookmark finds the current location of a bookmark's referent.
//
// The referent is live only at its recorded path, and only while the item
// there has the recorded identity. Otherwise the trash locations (the trash
// directories and trash segments under the root) are searched by identity;
// a referent found there is returned as stale. Live folders are never
// searched, since inode numbers are reused after a delete. Anything else is
// ErrNotFound.
func (s *ScopedStore) ResolveBookmark(data []byte) (string, bool, error) {
	bm, err := decodeBookmark(data)
	if err != nil {
		return "", false, err
	}

	recorded := filepath.Join(s.root, filepath.FromSlash(bm.Path))
	if info, err := os.Stat(recorded); err == nil && bm.matches(recorded, info) {
		real := realPath(recorded)
		return real, s.IsTrashed(real), nil
	}

	if !bm.ID.valid() {
		return "", true, fmt.Errorf("bookmark %s: %w", bm.Path, story.ErrNotFound)
	}

	if found := findByIdentity(s.root, bm, s.IsTrashed); found != "" {
		s.logger.Debug("bookmark referent found in the trash", "recorded", bm.Path, "found", found)
		return realPath(found), true, nil
	}
	for _, dir := range s.trashDirs {
		if found := findByIdentity(dir, bm, nil); found != "" {
			s.logger.Debug("bookmark referent found in the trash", "recorded", bm.Path, "found", found)
			return realPath(found), true, nil
		}
	}

	return "", true, fmt.Errorf("bookmark %s: %w", bm.Path, story.ErrNotFound)
}

// errFound stops the directory walk once the referent is located.
var errFound = errors.New("found")

// findByIdentity walks root (hidden directories included, symlinks not
// followed) looking for an entry with the bookmark's identity. When accept is
// set, only entries it approves are considered.
func findByIdentity(root string, bm *bookmark, accept func(string) bool) string {
	var found string
	err := filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, _ := filepath.Rel(root, p)
		depth := strings.Count(filepath.ToSlash(rel), "/") + 1
		if d.IsDir() && depth > maxSearchDepth {
			return filepath.SkipDir
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if accept != nil && !accept(p) {
			return nil
		}
		if bm.matches(p, info) {
			found = p
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return ""
	}
	return found
}

// fileID identifies a filesystem object independently of its path.
type fileID struct {
	Dev   uint64 `json:"dev,omitempty"`
	Ino   uint64 `json:"ino,omitempty"`
	Birth int64  `json:"birth,omitempty"` // nanoseconds; 0 when unknown
}

func (id fileID) valid() bool { return id.Ino != 0 }
