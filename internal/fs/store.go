package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"storyfs/internal/story"
)

// defaultTrashSegments are path components that mark a trash or recycle location.
var defaultTrashSegments = []string{".Trash", ".Trashes", "Trash", "$RECYCLE.BIN"}

// Options configures a ScopedStore.
type Options struct {
	// FallbackRoot is used when the requested root is not a writable
	// directory. Empty means DefaultRoot().
	FallbackRoot string

	// TrashSegments overrides the path components that mark a trash location.
	TrashSegments []string

	// TrashDirs are extra directories searched when a bookmark's referent has
	// left the root, so items deleted through a file browser are recognised.
	TrashDirs []string

	// Ignore holds glob patterns excluded from listings, on top of hidden entries.
	Ignore []string

	Logger story.Logger
}

// ScopedStore is the OS implementation of story.FileStore. Every operation is
// confined to the root's subtree; containment is decided by comparing real
// directories with os.SameFile, never by string prefixes.
//
// ScopedStore is not safe for concurrent use. Callers serialize access.
type ScopedStore struct {
	root          string
	current       string
	trashSegments []string
	trashDirs     []string
	ignore        *IgnoreMatcher
	logger        story.Logger
}

// DefaultRoot returns the platform default story root:
// $STORYFS_HOME/stories, or ~/.local/share/storyfs/stories.
func DefaultRoot() string {
	if home := os.Getenv("STORYFS_HOME"); home != "" {
		return filepath.Join(home, "stories")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "storyfs", "stories")
	}
	return filepath.Join(os.TempDir(), "storyfs", "stories")
}

// NewScopedStore creates a store rooted at root. If root is not an existing
// writable directory, the fallback root is created and used instead.
// ErrNoUsableRoot is returned when neither is usable.
func NewScopedStore(root string, opts Options) (*ScopedStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = story.NewNopLogger()
	}

	chosen := ""
	if root != "" && isWritableDir(root) {
		chosen = root
	} else {
		fallback := opts.FallbackRoot
		if fallback == "" {
			fallback = DefaultRoot()
		}
		if root != "" {
			logger.Warn("story root not usable, falling back", "root", root, "fallback", fallback)
		}
		if err := os.MkdirAll(fallback, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", story.ErrNoUsableRoot, fallback, err)
		}
		if !isWritableDir(fallback) {
			return nil, fmt.Errorf("%w: %s is not writable", story.ErrNoUsableRoot, fallback)
		}
		chosen = fallback
	}

	abs, err := filepath.Abs(chosen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", story.ErrNoUsableRoot, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", story.ErrNoUsableRoot, err)
	}

	segments := opts.TrashSegments
	if len(segments) == 0 {
		segments = defaultTrashSegments
	}

	patterns := append([]string(nil), opts.Ignore...)
	filePatterns, err := ParseIgnoreFile(filepath.Join(real, ignoreFileName))
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	patterns = append(patterns, filePatterns...)

	return &ScopedStore{
		root:          real,
		current:       real,
		trashSegments: segments,
		trashDirs:     opts.TrashDirs,
		ignore:        NewIgnoreMatcher(patterns),
		logger:        logger,
	}, nil
}

// Root returns the canonical root directory.
func (s *ScopedStore) Root() string {
	return s.root
}

// CurrentFolder returns the folder relative paths resolve against.
func (s *ScopedStore) CurrentFolder() string {
	return s.current
}

// abs resolves path against the current folder.
func (s *ScopedStore) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.current, path)
}

// realPath evaluates symlinks in the longest existing prefix of path and
// re-attaches the missing tail lexically.
func realPath(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(realPath(parent), filepath.Base(path))
}

// Contains reports whether descendant lies strictly inside ancestor. The real
// parents of descendant are compared with ancestor by file identity, so a
// symlink or a lexically similar path cannot fake containment.
func (s *ScopedStore) Contains(ancestor, descendant string) bool {
	aInfo, err := os.Stat(ancestor)
	if err != nil || !aInfo.IsDir() {
		return false
	}

	real := realPath(s.abs(descendant))
	for p := filepath.Dir(real); ; {
		if info, err := os.Stat(p); err == nil && os.SameFile(aInfo, info) {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
}

// isRoot reports whether path is the root itself.
func (s *ScopedStore) isRoot(path string) bool {
	rootInfo, err := os.Stat(s.root)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && os.SameFile(rootInfo, info)
}

// inScope reports whether path is the root or strictly inside it.
func (s *ScopedStore) inScope(path string) bool {
	return s.isRoot(path) || s.Contains(s.root, path)
}

// refuse logs a sandbox violation and returns the matching error.
func (s *ScopedStore) refuse(op, path string) error {
	s.logger.Error("refusing operation outside story root", "op", op, "path", path, "root", s.root)
	return fmt.Errorf("%s %s: %w", op, path, story.ErrOutsideRoot)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// FolderExists reports whether path exists and is a directory.
func (s *ScopedStore) FolderExists(path string) bool {
	info, err := os.Stat(s.abs(path))
	return err == nil && info.IsDir()
}

// ResolvePath resolves path against the current folder. With appendSuffix set
// and the target taken, it returns the first free "Name N" for N >= 2.
// Nothing is created.
func (s *ScopedStore) ResolvePath(path string, appendSuffix bool) (string, error) {
	target := s.abs(path)
	if !s.inScope(target) {
		return "", s.refuse("resolve", target)
	}
	if !appendSuffix || !exists(target) {
		return target, nil
	}
	for n := 2; ; n++ {
		candidate := story.SuffixedName(target, n)
		if !exists(candidate) {
			return candidate, nil
		}
	}
}

// CreateFolder creates a single folder (no intermediate directories).
// Without appendSuffix an existing folder is returned as is.
func (s *ScopedStore) CreateFolder(path string, appendSuffix bool) (*story.FolderRef, error) {
	target, err := s.ResolvePath(path, appendSuffix)
	if err != nil {
		return nil, err
	}
	if !s.Contains(s.root, target) {
		return nil, s.refuse("create", target)
	}

	if info, err := os.Stat(target); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("create %s: %w", target, story.ErrNotDirectory)
		}
		return story.NewFolderRef(realPath(target), true, info), nil
	}

	if err := os.Mkdir(target, 0755); err != nil {
		s.logger.Error("creating folder failed", "path", target, "error", err)
		return nil, fmt.Errorf("creating folder: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat new folder: %w", err)
	}
	s.logger.Debug("folder created", "path", target)
	return story.NewFolderRef(realPath(target), true, info), nil
}

// SetCurrentFolder changes the folder relative paths resolve against. path
// must be an existing directory that is the root or inside it.
func (s *ScopedStore) SetCurrentFolder(path string) error {
	target := s.abs(path)
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("set current folder %s: %w", target, story.ErrNotFound)
	}
	if !info.IsDir() {
		return fmt.Errorf("set current folder %s: %w", target, story.ErrNotDirectory)
	}
	if !s.inScope(target) {
		return s.refuse("set current folder", target)
	}
	s.current = realPath(target)
	return nil
}

// ResetCurrentFolder makes the root the current folder again.
func (s *ScopedStore) ResetCurrentFolder() {
	s.current = s.root
}

// ListFolders lists the immediate child directories of path.
func (s *ScopedStore) ListFolders(path string) ([]*story.FolderRef, error) {
	return s.list(path, true)
}

// ListContents lists every immediate child of path.
func (s *ScopedStore) ListContents(path string) ([]*story.FolderRef, error) {
	return s.list(path, false)
}

// list reads a directory, skipping hidden and ignored entries. Symlinks are
// replaced by their real targets; targets outside the root are skipped, and
// each real path is listed once.
func (s *ScopedStore) list(path string, foldersOnly bool) ([]*story.FolderRef, error) {
	dir := s.abs(path)
	if !s.inScope(dir) {
		return nil, s.refuse("list", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var refs []*story.FolderRef
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)

		target := full
		if entry.Type()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(full)
			if err != nil {
				s.logger.Debug("skipping dangling symlink", "path", full)
				continue
			}
			if !s.Contains(s.root, resolved) {
				s.logger.Warn("skipping symlink that leaves the story root", "path", full, "target", resolved)
				continue
			}
			target = resolved
		}

		info, err := os.Stat(target)
		if err != nil {
			// Entry vanished between ReadDir and Stat.
			continue
		}
		if foldersOnly && !info.IsDir() {
			continue
		}
		if rel, err := filepath.Rel(s.root, full); err == nil && s.ignore.Match(rel, info.IsDir()) {
			continue
		}
		real := realPath(target)
		if seen[real] {
			continue
		}
		seen[real] = true
		refs = append(refs, story.NewFolderRef(real, info.IsDir(), info))
	}

	return refs, nil
}

// DeleteFolder removes a directory and everything below it. The directory
// must exist and be strictly inside the root; symlinks are refused.
func (s *ScopedStore) DeleteFolder(path string) error {
	target := s.abs(path)
	info, err := os.Lstat(target)
	if err != nil {
		return fmt.Errorf("delete %s: %w", target, story.ErrNotFound)
	}
	if !info.IsDir() {
		return fmt.Errorf("delete %s: %w", target, story.ErrNotDirectory)
	}
	if !s.Contains(s.root, target) {
		return s.refuse("delete", target)
	}

	if err := os.RemoveAll(target); err != nil {
		s.logger.Error("deleting folder failed", "path", target, "error", err)
		return fmt.Errorf("deleting folder: %w", err)
	}
	s.logger.Debug("folder deleted", "path", target)
	return nil
}

// DeleteContents removes every immediate child of path. It keeps going after
// a failure, so some children may be gone when an error is returned; the
// returned error joins every individual failure.
func (s *ScopedStore) DeleteContents(path string) error {
	dir := s.abs(path)
	if !s.inScope(dir) {
		return s.refuse("delete contents", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		child := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(child); err != nil {
			s.logger.Error("deleting entry failed", "path", child, "error", err)
			errs = append(errs, fmt.Errorf("deleting %s: %w", child, err))
		}
	}
	return errors.Join(errs...)
}

// MoveFolder moves source to destination. The destination's last element is
// sanitized first. Both ends must stay inside the root and the destination
// must not exist.
func (s *ScopedStore) MoveFolder(source, destination string) error {
	src := s.abs(source)
	dst := s.abs(destination)

	name := story.SanitizeFolderName(filepath.Base(dst))
	if name == "" {
		return fmt.Errorf("move to %s: %w", dst, story.ErrInvalidName)
	}
	dst = filepath.Join(filepath.Dir(dst), name)

	if !exists(src) {
		return fmt.Errorf("move %s: %w", src, story.ErrNotFound)
	}
	if !s.Contains(s.root, src) {
		return s.refuse("move", src)
	}
	if !s.Contains(s.root, dst) {
		return s.refuse("move", dst)
	}
	if exists(dst) {
		return fmt.Errorf("move to %s: %w", dst, story.ErrExists)
	}

	if err := os.Rename(src, dst); err != nil {
		s.logger.Error("moving folder failed", "source", src, "destination", dst, "error", err)
		return fmt.Errorf("moving folder: %w", err)
	}
	s.logger.Debug("folder moved", "source", src, "destination", dst)
	return nil
}

// RenameFolder renames source within its parent. The new name is sanitized,
// and suffixed if another entry already has it.
func (s *ScopedStore) RenameFolder(source, newName string) (*story.FolderRef, error) {
	src := s.abs(source)
	name := story.SanitizeFolderName(newName)
	if !story.IsValidFolderName(name) {
		return nil, fmt.Errorf("rename to %q: %w", newName, story.ErrInvalidName)
	}

	target := filepath.Join(filepath.Dir(src), name)
	if target != src && exists(target) {
		resolved, err := s.ResolvePath(target, true)
		if err != nil {
			return nil, err
		}
		target = resolved
	}

	if target != src {
		if err := s.MoveFolder(src, target); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat renamed folder: %w", err)
	}
	return story.NewFolderRef(realPath(target), true, info), nil
}

// WriteFile copies r into a new file inside folder. The name is reduced to a
// single visible path component; on collision " N" is inserted before the
// extension. A failed copy leaves no file behind.
func (s *ScopedStore) WriteFile(folder, name string, r io.Reader) (*story.FolderRef, error) {
	dir := s.abs(folder)
	if !s.Contains(s.root, dir) {
		return nil, s.refuse("write", dir)
	}
	if !s.FolderExists(dir) {
		return nil, fmt.Errorf("write into %s: %w", dir, story.ErrNotDirectory)
	}

	base := strings.TrimLeft(filepath.Base(strings.ReplaceAll(name, `\`, "/")), ".")
	if base == "" || base == string(filepath.Separator) {
		return nil, fmt.Errorf("write %q: %w", name, story.ErrInvalidName)
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	target := filepath.Join(dir, base)
	for n := 2; exists(target); n++ {
		target = filepath.Join(dir, story.SuffixedName(stem, n)+ext)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("closing file: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat new file: %w", err)
	}
	return story.NewFolderRef(realPath(target), false, info), nil
}

// IsTrashed reports whether any component of path is a trash segment, or
// path lies inside one of the configured trash directories. For paths inside
// the root only the components below the root are inspected.
func (s *ScopedStore) IsTrashed(path string) bool {
	checked := path
	if rel, err := filepath.Rel(s.root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		checked = rel
	}
	for _, part := range strings.Split(filepath.ToSlash(checked), "/") {
		for _, seg := range s.trashSegments {
			if part == seg {
				return true
			}
		}
	}
	for _, dir := range s.trashDirs {
		if s.Contains(dir, path) {
			return true
		}
	}
	return false
}

// Compile-time check that ScopedStore implements story.FileStore.
var _ story.FileStore = (*ScopedStore)(nil)
