package story

import (
	"strconv"
	"strings"
)

// SanitizeFolderName makes name safe to use as a single path component.
// Path separators and dots become '-', so a name can neither nest folders nor
// produce a hidden entry. Leading and trailing '-' are trimmed.
func SanitizeFolderName(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.':
			return '-'
		}
		return r
	}, name)
	return strings.Trim(sanitized, "-")
}

// IsValidFolderName reports whether name is non-empty after trimming whitespace.
func IsValidFolderName(name string) bool {
	return strings.TrimSpace(name) != ""
}

// SuffixedName returns "name n", the collision-avoidance form used for n >= 2.
func SuffixedName(name string, n int) string {
	return name + " " + strconv.Itoa(n)
}
