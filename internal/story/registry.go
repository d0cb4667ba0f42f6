package story

import (
	"storyfs/internal/model"
	"storyfs/internal/sorting"
)

// RecordStore is the slice of the registry the Reconciler needs.
type RecordStore interface {
	// ListRecords returns every story folder record, removed ones included,
	// ordered by creation time then ID.
	ListRecords() ([]*model.StoryFolder, error)

	// CreateRecord creates a story folder record bound to bookmark.
	CreateRecord(siteID string, bookmark []byte, name string) (*model.StoryFolder, error)

	// DeleteRecord deletes a record and all of its assets.
	DeleteRecord(id string) error

	// RenameRecord changes a record's display name. The ID never changes.
	RenameRecord(id, name string) error

	// UpdateRecordBookmark replaces a record's bookmark after its folder moved.
	UpdateRecordBookmark(id string, bookmark []byte) error
}

// Registry provides persistence for sites, story folders, assets,
// preferences and the operation log. Mutations publish ChangeEvents to
// subscribers once committed.
type Registry interface {
	RecordStore

	// Story folder operations

	// FindRecord returns the record with the given ID, or nil if absent.
	FindRecord(id string) (*model.StoryFolder, error)

	// ListRecordsOrdered returns the non-removed records of a site sorted by ordering.
	ListRecordsOrdered(siteID string, ordering []sorting.Order) ([]*model.StoryFolder, error)

	// MarkRecordRemoved soft-deletes a record. The next reconciliation purges it.
	MarkRecordRemoved(id string) error

	// SetRecordAutoSync toggles automatic upload for a record.
	SetRecordAutoSync(id string, autoSync bool) error

	// Site operations

	CreateSite(name, url string) (*model.Site, error)
	FindSite(id string) (*model.Site, error)
	FindSiteByName(name string) (*model.Site, error)
	ListSites() ([]*model.Site, error)

	// DeleteSite deletes a site, its story folder records and their assets.
	DeleteSite(id string) error

	// Asset operations

	CreateAsset(storyFolderID, name string, kind model.AssetKind, bookmark []byte) (*model.Asset, error)
	ListAssets(storyFolderID string) ([]*model.Asset, error)
	DeleteAsset(id string) error

	// Preference operations back the sort facility's key-value persistence.

	GetPreference(key string) (string, bool, error)
	SetPreference(key, value string) error

	// Operation log

	CreateOperation(operation, parameters string) (*model.Operation, error)
	FinishOperation(id int64, status, summary string) error
	ListOperations(limit int) ([]*model.Operation, error)
	MaxOperationID() (int64, error)

	// Subscribe registers an observer for committed changes.
	Subscribe(fn func(ChangeEvent)) (unsubscribe func())

	// Close closes the registry.
	Close() error
}
