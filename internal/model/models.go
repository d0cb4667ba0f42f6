package model

import (
	"database/sql"
	"path/filepath"
	"strings"
	"time"
)

// Site is a publishing destination that owns story folders.
type Site struct {
	ID        string // UUID
	Name      string
	URL       string
	CreatedAt time.Time
}

// StoryFolder is the persisted record for one story folder on disk.
// The bookmark is the durable reference to the folder; the live path is
// derived from it on demand and never stored.
type StoryFolder struct {
	ID        string // UUID
	SiteID    string // Foreign key to Site
	Name      string // Display name, normally the folder's base name
	Bookmark  []byte // Opaque bookmark produced by the scoped store
	Removed   bool   // Soft-deleted by the user or a sync job
	AutoSync  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Asset is one file inside a story folder.
type Asset struct {
	ID            string // UUID
	StoryFolderID string // Foreign key to StoryFolder
	Name          string
	Kind          AssetKind
	Bookmark      []byte
	CreatedAt     time.Time
}

// Operation records one CLI command that mutated the registry.
// The auto-increment ID doubles as the registry snapshot version.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string // "running", "success" or "error"
	Summary    string
}

// AssetKind classifies an asset by the media it holds.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
	AssetAudio AssetKind = "audio"
	AssetText  AssetKind = "text"
	AssetOther AssetKind = "other"
)

var kindsByExtension = map[string]AssetKind{
	".jpg":  AssetImage,
	".jpeg": AssetImage,
	".png":  AssetImage,
	".gif":  AssetImage,
	".heic": AssetImage,
	".webp": AssetImage,
	".mov":  AssetVideo,
	".mp4":  AssetVideo,
	".m4v":  AssetVideo,
	".m4a":  AssetAudio,
	".mp3":  AssetAudio,
	".wav":  AssetAudio,
	".aac":  AssetAudio,
	".txt":  AssetText,
	".md":   AssetText,
	".html": AssetText,
}

// KindForFile derives the asset kind from a file name's extension.
func KindForFile(name string) AssetKind {
	if kind, ok := kindsByExtension[strings.ToLower(filepath.Ext(name))]; ok {
		return kind
	}
	return AssetOther
}
