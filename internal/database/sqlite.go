package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyfs/internal/database/migrations"
	"storyfs/internal/model"
	"storyfs/internal/sorting"
	"storyfs/internal/story"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements story.Registry using SQLite.
type SQLiteDatabase struct {
	db       *sql.DB
	path     string
	clock    story.Clock
	ids      story.IDGenerator
	notifier *story.Notifier
}

// NewSQLiteDatabase opens the registry at path (":memory:" for an in-memory
// registry). A nil clock or ID generator selects the real implementation.
func NewSQLiteDatabase(path string, clock story.Clock, ids story.IDGenerator) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path, clock, ids), nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection. The caller is
// responsible for configuring it the way OpenConnection does.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock story.Clock, ids story.IDGenerator) *SQLiteDatabase {
	if clock == nil {
		clock = story.RealClock{}
	}
	if ids == nil {
		ids = story.UUIDGenerator{}
	}
	return &SQLiteDatabase{
		db:       db,
		path:     path,
		clock:    clock,
		ids:      ids,
		notifier: story.NewNotifier(),
	}
}

// OpenConnection opens and configures a SQLite connection.
//
// Foreign keys and the busy timeout are set in the DSN so every pooled
// connection gets them. The pool is limited to one connection: an
// in-memory database exists per connection, and the registry is written by
// a single process anyway.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_foreign_keys=on&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// publish notifies observers after a committed change.
func (s *SQLiteDatabase) publish(kind story.ChangeKind, entity, id string) {
	s.notifier.Publish(story.ChangeEvent{Kind: kind, Entity: entity, ID: id})
}

// Subscribe registers an observer for committed changes.
func (s *SQLiteDatabase) Subscribe(fn func(story.ChangeEvent)) func() {
	return s.notifier.Subscribe(fn)
}

// Site operations

const siteColumns = "id, name, url, created_at"

func scanSite(row interface{ Scan(...any) error }) (*model.Site, error) {
	var site model.Site
	if err := row.Scan(&site.ID, &site.Name, &site.URL, &site.CreatedAt); err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *SQLiteDatabase) CreateSite(name, url string) (*model.Site, error) {
	site := &model.Site{
		ID:        s.ids.New(),
		Name:      name,
		URL:       url,
		CreatedAt: s.clock.Now(),
	}
	_, err := s.db.Exec("INSERT INTO sites ("+siteColumns+") VALUES (?, ?, ?, ?)",
		site.ID, site.Name, site.URL, site.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating site: %w", err)
	}
	s.publish(story.ChangeCreated, story.EntitySite, site.ID)
	return site, nil
}

func (s *SQLiteDatabase) FindSite(id string) (*model.Site, error) {
	site, err := scanSite(s.db.QueryRow("SELECT "+siteColumns+" FROM sites WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding site: %w", err)
	}
	return site, nil
}

func (s *SQLiteDatabase) FindSiteByName(name string) (*model.Site, error) {
	site, err := scanSite(s.db.QueryRow("SELECT "+siteColumns+" FROM sites WHERE name = ?", name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding site by name: %w", err)
	}
	return site, nil
}

func (s *SQLiteDatabase) ListSites() ([]*model.Site, error) {
	rows, err := s.db.Query("SELECT " + siteColumns + " FROM sites ORDER BY name COLLATE NOCASE, id")
	if err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}
	defer rows.Close()

	var result []*model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		result = append(result, site)
	}
	return result, rows.Err()
}

// DeleteSite deletes a site together with its story folder records and
// their assets in one transaction.
func (s *SQLiteDatabase) DeleteSite(id string) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	recordIDs, err := queryIDs(tx, "SELECT id FROM story_folders WHERE site_id = ?", id)
	if err != nil {
		return fmt.Errorf("finding site records: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM assets WHERE story_folder_id IN (SELECT id FROM story_folders WHERE site_id = ?)", id); err != nil {
		return fmt.Errorf("deleting site assets: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM story_folders WHERE site_id = ?", id); err != nil {
		return fmt.Errorf("deleting site records: %w", err)
	}
	res, err := tx.Exec("DELETE FROM sites WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("site %s: %w", id, story.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, rid := range recordIDs {
		s.publish(story.ChangeDeleted, story.EntityStoryFolder, rid)
	}
	s.publish(story.ChangeDeleted, story.EntitySite, id)
	return nil
}

// Story folder operations

const recordColumns = "id, site_id, name, bookmark, removed, auto_sync, created_at, updated_at"

func scanRecord(row interface{ Scan(...any) error }) (*model.StoryFolder, error) {
	var rec model.StoryFolder
	err := row.Scan(&rec.ID, &rec.SiteID, &rec.Name, &rec.Bookmark,
		&rec.Removed, &rec.AutoSync, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteDatabase) queryRecords(query string, args ...any) ([]*model.StoryFolder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*model.StoryFolder
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning story folder: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ListRecords returns every record, removed ones included, oldest first.
func (s *SQLiteDatabase) ListRecords() ([]*model.StoryFolder, error) {
	recs, err := s.queryRecords("SELECT " + recordColumns + " FROM story_folders ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing story folders: %w", err)
	}
	return recs, nil
}

// orderColumns whitelists the fields an ordering may reference.
var orderColumns = map[string]string{
	sorting.FieldName:      "name",
	sorting.FieldCreatedAt: "created_at",
	sorting.FieldUpdatedAt: "updated_at",
	sorting.FieldAutoSync:  "auto_sync",
}

// orderClause builds an ORDER BY clause from ordering. The id column is
// always appended so equal keys sort deterministically.
func orderClause(ordering []sorting.Order) (string, error) {
	terms := make([]string, 0, len(ordering)+1)
	for _, o := range ordering {
		col, ok := orderColumns[o.Field]
		if !ok {
			return "", fmt.Errorf("unknown sort field %q", o.Field)
		}
		term := col
		if o.CaseInsensitive {
			term += " COLLATE NOCASE"
		}
		if o.Descending {
			term += " DESC"
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		terms = append(terms, "created_at")
	}
	terms = append(terms, "id")
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

// ListRecordsOrdered returns a site's non-removed records sorted by ordering.
func (s *SQLiteDatabase) ListRecordsOrdered(siteID string, ordering []sorting.Order) ([]*model.StoryFolder, error) {
	clause, err := orderClause(ordering)
	if err != nil {
		return nil, err
	}
	recs, err := s.queryRecords("SELECT "+recordColumns+" FROM story_folders WHERE site_id = ? AND removed = 0"+clause, siteID)
	if err != nil {
		return nil, fmt.Errorf("listing story folders: %w", err)
	}
	return recs, nil
}

func (s *SQLiteDatabase) FindRecord(id string) (*model.StoryFolder, error) {
	rec, err := scanRecord(s.db.QueryRow("SELECT "+recordColumns+" FROM story_folders WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding story folder: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) CreateRecord(siteID string, bookmark []byte, name string) (*model.StoryFolder, error) {
	now := s.clock.Now()
	rec := &model.StoryFolder{
		ID:        s.ids.New(),
		SiteID:    siteID,
		Name:      name,
		Bookmark:  bookmark,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec("INSERT INTO story_folders ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.SiteID, rec.Name, rec.Bookmark, rec.Removed, rec.AutoSync, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating story folder: %w", err)
	}
	s.publish(story.ChangeCreated, story.EntityStoryFolder, rec.ID)
	return rec, nil
}

// updateRecord runs an UPDATE on one record, bumping updated_at, and
// publishes the change.
func (s *SQLiteDatabase) updateRecord(id, set string, args ...any) error {
	args = append(args, s.clock.Now(), id)
	res, err := s.db.Exec("UPDATE story_folders SET "+set+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("story folder %s: %w", id, story.ErrNotFound)
	}
	s.publish(story.ChangeUpdated, story.EntityStoryFolder, id)
	return nil
}

func (s *SQLiteDatabase) RenameRecord(id, name string) error {
	if err := s.updateRecord(id, "name = ?", name); err != nil {
		return fmt.Errorf("renaming story folder: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpdateRecordBookmark(id string, bookmark []byte) error {
	if err := s.updateRecord(id, "bookmark = ?", bookmark); err != nil {
		return fmt.Errorf("updating story folder bookmark: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) MarkRecordRemoved(id string) error {
	if err := s.updateRecord(id, "removed = ?", true); err != nil {
		return fmt.Errorf("marking story folder removed: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) SetRecordAutoSync(id string, autoSync bool) error {
	if err := s.updateRecord(id, "auto_sync = ?", autoSync); err != nil {
		return fmt.Errorf("updating story folder auto sync: %w", err)
	}
	return nil
}

// DeleteRecord deletes a record and its assets in one transaction.
func (s *SQLiteDatabase) DeleteRecord(id string) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	assetIDs, err := queryIDs(tx, "SELECT id FROM assets WHERE story_folder_id = ?", id)
	if err != nil {
		return fmt.Errorf("finding assets: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM assets WHERE story_folder_id = ?", id); err != nil {
		return fmt.Errorf("deleting assets: %w", err)
	}
	res, err := tx.Exec("DELETE FROM story_folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting story folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("story folder %s: %w", id, story.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, aid := range assetIDs {
		s.publish(story.ChangeDeleted, story.EntityAsset, aid)
	}
	s.publish(story.ChangeDeleted, story.EntityStoryFolder, id)
	return nil
}

// Asset operations

const assetColumns = "id, story_folder_id, name, kind, bookmark, created_at"

func (s *SQLiteDatabase) CreateAsset(storyFolderID, name string, kind model.AssetKind, bookmark []byte) (*model.Asset, error) {
	asset := &model.Asset{
		ID:            s.ids.New(),
		StoryFolderID: storyFolderID,
		Name:          name,
		Kind:          kind,
		Bookmark:      bookmark,
		CreatedAt:     s.clock.Now(),
	}
	_, err := s.db.Exec("INSERT INTO assets ("+assetColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		asset.ID, asset.StoryFolderID, asset.Name, string(asset.Kind), asset.Bookmark, asset.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating asset: %w", err)
	}
	s.publish(story.ChangeCreated, story.EntityAsset, asset.ID)
	return asset, nil
}

func (s *SQLiteDatabase) ListAssets(storyFolderID string) ([]*model.Asset, error) {
	rows, err := s.db.Query("SELECT "+assetColumns+" FROM assets WHERE story_folder_id = ? ORDER BY created_at, id", storyFolderID)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var result []*model.Asset
	for rows.Next() {
		var a model.Asset
		var kind string
		if err := rows.Scan(&a.ID, &a.StoryFolderID, &a.Name, &kind, &a.Bookmark, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		a.Kind = model.AssetKind(kind)
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) DeleteAsset(id string) error {
	res, err := s.db.Exec("DELETE FROM assets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("asset %s: %w", id, story.ErrNotFound)
	}
	s.publish(story.ChangeDeleted, story.EntityAsset, id)
	return nil
}

// Preference operations

func (s *SQLiteDatabase) GetPreference(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteDatabase) SetPreference(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing preference %s: %w", key, err)
	}
	return nil
}

// Operation tracking

const operationColumns = "id, operation, parameters, started_at, finished_at, status, summary"

func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  s.clock.Now(),
		Status:     "running",
	}
	res, err := s.db.Exec("INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)",
		op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status, summary string) error {
	_, err := s.db.Exec("UPDATE operations SET finished_at = ?, status = ?, summary = ? WHERE id = ?",
		s.clock.Now(), status, summary, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns up to limit operations, newest first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := s.db.Query("SELECT "+operationColumns+" FROM operations ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*model.Operation
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status, &op.Summary); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		result = append(result, &op)
	}
	return result, rows.Err()
}

// MaxOperationID returns the newest operation ID, 0 for an empty log.
func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(id), 0) FROM operations").Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

func queryIDs(tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo writes a complete, consistent copy of the database to destPath
// using VACUUM INTO. destPath must not exist.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements story.Registry.
var _ story.Registry = (*SQLiteDatabase)(nil)
