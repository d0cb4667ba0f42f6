package story

import "testing"

func TestSanitizeFolderName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name unchanged", "City Council", "City Council"},
		{"slash becomes dash", "Budget/2024", "Budget-2024"},
		{"backslash becomes dash", `a\b`, "a-b"},
		{"dots become dashes", "v1.2", "v1-2"},
		{"leading dot cannot hide folder", ".hidden", "hidden"},
		{"parent reference collapses", "..", ""},
		{"trailing separators trimmed", "draft//", "draft"},
		{"interior dashes kept", "a--b", "a--b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFolderName(tt.in); got != tt.want {
				t.Errorf("SanitizeFolderName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsValidFolderName(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Story", true},
		{"  padded  ", true},
		{"", false},
		{"   ", false},
		{"\t\n", false},
	}

	for _, tt := range tests {
		if got := IsValidFolderName(tt.in); got != tt.want {
			t.Errorf("IsValidFolderName(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSuffixedName(t *testing.T) {
	if got := SuffixedName("Test", 2); got != "Test 2" {
		t.Errorf("SuffixedName() = %q, want %q", got, "Test 2")
	}
}
