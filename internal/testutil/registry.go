package testutil

import (
	"errors"
	"sync"

	"storyfs/internal/model"
	"storyfs/internal/story"
)

// ErrInjected is returned by FailingRegistry for operations set up to fail.
var ErrInjected = errors.New("injected failure")

// FailingRegistry wraps a Registry and fails selected record operations.
// Failures are keyed by record ID for deletes, renames and bookmark updates,
// and by record name for creates.
type FailingRegistry struct {
	story.Registry

	mu           sync.Mutex
	failCreate   map[string]bool
	failDelete   map[string]bool
	failRename   map[string]bool
	failBookmark map[string]bool
	failList     bool
}

// NewFailingRegistry wraps inner with no failures configured.
func NewFailingRegistry(inner story.Registry) *FailingRegistry {
	return &FailingRegistry{
		Registry:     inner,
		failCreate:   make(map[string]bool),
		failDelete:   make(map[string]bool),
		failRename:   make(map[string]bool),
		failBookmark: make(map[string]bool),
	}
}

func (f *FailingRegistry) FailCreate(name string) { f.set(f.failCreate, name) }
func (f *FailingRegistry) FailDelete(id string)   { f.set(f.failDelete, id) }
func (f *FailingRegistry) FailRename(id string)   { f.set(f.failRename, id) }
func (f *FailingRegistry) FailBookmark(id string) { f.set(f.failBookmark, id) }

// FailList makes ListRecords fail until Heal is called.
func (f *FailingRegistry) FailList() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failList = true
}

// Heal clears every configured failure.
func (f *FailingRegistry) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.failCreate)
	clear(f.failDelete)
	clear(f.failRename)
	clear(f.failBookmark)
	f.failList = false
}

func (f *FailingRegistry) set(m map[string]bool, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m[key] = true
}

func (f *FailingRegistry) failing(m map[string]bool, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[key]
}

func (f *FailingRegistry) ListRecords() ([]*model.StoryFolder, error) {
	f.mu.Lock()
	fail := f.failList
	f.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return f.Registry.ListRecords()
}

func (f *FailingRegistry) CreateRecord(siteID string, bookmark []byte, name string) (*model.StoryFolder, error) {
	if f.failing(f.failCreate, name) {
		return nil, ErrInjected
	}
	return f.Registry.CreateRecord(siteID, bookmark, name)
}

func (f *FailingRegistry) DeleteRecord(id string) error {
	if f.failing(f.failDelete, id) {
		return ErrInjected
	}
	return f.Registry.DeleteRecord(id)
}

func (f *FailingRegistry) RenameRecord(id, name string) error {
	if f.failing(f.failRename, id) {
		return ErrInjected
	}
	return f.Registry.RenameRecord(id, name)
}

func (f *FailingRegistry) UpdateRecordBookmark(id string, bookmark []byte) error {
	if f.failing(f.failBookmark, id) {
		return ErrInjected
	}
	return f.Registry.UpdateRecordBookmark(id, bookmark)
}
