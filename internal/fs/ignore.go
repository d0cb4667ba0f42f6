package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ignoreFileName is read from the story root when the store is created.
// Being hidden, the file itself never shows up in listings.
const ignoreFileName = ".storyignore"

// ignorePattern is one parsed rule of an IgnoreMatcher.
type ignorePattern struct {
	glob      string
	matchPath bool // glob contains '/': matched against the root-relative path
	dirOnly   bool // written with a trailing '/': matches directories only
}

// IgnoreMatcher decides which root entries are kept out of listings, so
// editor scratch files or sync-tool folders never become story folders or
// assets.
//
// Pattern syntax:
//   - "*.tmp" matches the entry's base name at any depth
//   - "exports/*.zip" matches the root-relative path
//   - a trailing '/' ("Archive/") restricts a pattern to directories
//   - blank lines and lines starting with '#' are skipped
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher parses raw pattern lines.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p := ignorePattern{}
		if strings.HasSuffix(line, "/") {
			p.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if line == "" {
			continue
		}
		p.glob = line
		p.matchPath = strings.Contains(line, "/")
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Match reports whether the entry at the root-relative path should be hidden.
func (m *IgnoreMatcher) Match(relativePath string, isDir bool) bool {
	if relativePath == "" {
		return false
	}

	slashed := filepath.ToSlash(relativePath)
	base := filepath.Base(relativePath)

	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		subject := base
		if p.matchPath {
			subject = slashed
		}
		// A malformed glob never matches.
		if ok, err := filepath.Match(p.glob, subject); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile returns the raw lines of an ignore file, or nil if the file
// does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
