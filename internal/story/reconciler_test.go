package story_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"storyfs/internal/database"
	"storyfs/internal/fs"
	"storyfs/internal/model"
	"storyfs/internal/story"
	"storyfs/internal/testutil"
)

type reconcileEnv struct {
	store *fs.ScopedStore
	db    *database.SQLiteDatabase
	site  *model.Site
	svc   *story.Service
	rec   *story.Reconciler
}

func newReconcileEnv(t *testing.T) *reconcileEnv {
	t.Helper()
	store := testutil.NewTestStore(t)
	db := testutil.NewTestDatabase(t)
	site := testutil.NewTestSite(t, db, "blog")
	return &reconcileEnv{
		store: store,
		db:    db,
		site:  site,
		svc:   story.NewService(store, db, story.NewNopLogger()),
		rec:   story.NewReconciler(store, db, site.ID, story.NewNopLogger()),
	}
}

func (e *reconcileEnv) createStories(t *testing.T, names ...string) map[string]*model.StoryFolder {
	t.Helper()
	out := make(map[string]*model.StoryFolder, len(names))
	for _, name := range names {
		rec, err := e.svc.CreateStory(e.site.ID, name)
		if err != nil {
			t.Fatalf("CreateStory(%q) error = %v", name, err)
		}
		out[name] = rec
	}
	return out
}

// recordNames returns the sorted names of every record in the registry.
func (e *reconcileEnv) recordNames(t *testing.T) []string {
	t.Helper()
	recs, err := e.db.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}
	sort.Strings(names)
	return names
}

func (e *reconcileEnv) mustReconcile(t *testing.T) *story.ReconcileReport {
	t.Helper()
	report, err := e.rec.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return report
}

func (e *reconcileEnv) assertConsistent(t *testing.T, want bool) {
	t.Helper()
	inconsistent, err := e.rec.HasInconsistencies()
	if err != nil {
		t.Fatalf("HasInconsistencies() error = %v", err)
	}
	if inconsistent == want {
		t.Errorf("HasInconsistencies() = %v, want %v", inconsistent, !want)
	}
}

func (e *reconcileEnv) mustAsset(t *testing.T, storyID, name string) *model.Asset {
	t.Helper()
	asset, err := e.db.CreateAsset(storyID, name, model.KindForFile(name), []byte("bm-"+name))
	if err != nil {
		t.Fatalf("CreateAsset(%q) error = %v", name, err)
	}
	return asset
}

// recycledBookmark returns a bookmark recorded for the root folder named
// recorded that carries the identity of the live folder named live, the way
// a bookmark looks after the filesystem hands a deleted folder's inode to a
// new one.
func recycledBookmark(t *testing.T, store *fs.ScopedStore, recorded, live string) []byte {
	t.Helper()
	data, err := store.Bookmark(filepath.Join(store.Root(), live))
	if err != nil {
		t.Fatalf("Bookmark(%q) error = %v", live, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("decoding bookmark: %v", err)
	}
	fields["path"], _ = json.Marshal(recorded)
	out, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("encoding bookmark: %v", err)
	}
	return out
}

func joined(names []string) string {
	return strings.Join(names, ",")
}

func TestReconciler_Scenario(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha", "beta", "gamma", "delta")
	e.mustAsset(t, recs["gamma"].ID, "photo.jpg")

	testutil.RemoveRoot(t, e.store, "gamma", "delta")
	for _, name := range []string{"epsilon", "zeta"} {
		if _, err := e.store.CreateFolder(filepath.Join(e.store.Root(), name), false); err != nil {
			t.Fatalf("CreateFolder(%q) error = %v", name, err)
		}
	}

	e.assertConsistent(t, false)

	report := e.mustReconcile(t)
	if len(report.Created) != 2 || len(report.Deleted) != 2 || report.Failures != 0 {
		t.Errorf("report = %s, want 2 created and 2 deleted", report)
	}
	if got := joined(e.recordNames(t)); got != "alpha,beta,epsilon,zeta" {
		t.Errorf("records = %s, want alpha,beta,epsilon,zeta", got)
	}
	for _, name := range []string{"gamma", "delta"} {
		if got, _ := e.db.FindRecord(recs[name].ID); got != nil {
			t.Errorf("%s's record survived as %q", name, got.Name)
		}
	}
	if assets, _ := e.db.ListAssets(recs["gamma"].ID); len(assets) != 0 {
		t.Errorf("gamma's assets survived: %+v", assets)
	}
	e.assertConsistent(t, true)
}

func TestReconciler_ScenarioWithRecycledInodes(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha", "beta", "gamma", "delta")
	e.mustAsset(t, recs["gamma"].ID, "photo.jpg")

	testutil.RemoveRoot(t, e.store, "gamma", "delta")
	testutil.MkdirRoot(t, e.store, "epsilon", "zeta")

	// gamma and delta's inodes went to epsilon and zeta.
	for recorded, live := range map[string]string{"gamma": "epsilon", "delta": "zeta"} {
		bm := recycledBookmark(t, e.store, recorded, live)
		if path, _, err := e.store.ResolveBookmark(bm); !errors.Is(err, story.ErrNotFound) {
			t.Fatalf("ResolveBookmark(%s) = %q, %v; want ErrNotFound", recorded, path, err)
		}
		if err := e.db.UpdateRecordBookmark(recs[recorded].ID, bm); err != nil {
			t.Fatalf("UpdateRecordBookmark() error = %v", err)
		}
	}

	e.assertConsistent(t, false)

	report := e.mustReconcile(t)
	if len(report.Created) != 2 || len(report.Deleted) != 2 || report.Renamed != 0 {
		t.Errorf("report = %s, want 2 created, 2 deleted, none renamed", report)
	}
	if got := joined(e.recordNames(t)); got != "alpha,beta,epsilon,zeta" {
		t.Errorf("records = %s, want alpha,beta,epsilon,zeta", got)
	}
	if got, _ := e.db.FindRecord(recs["gamma"].ID); got != nil {
		t.Errorf("gamma's record survived as %q", got.Name)
	}
	if assets, _ := e.db.ListAssets(recs["gamma"].ID); len(assets) != 0 {
		t.Errorf("gamma's assets survived: %+v", assets)
	}
	e.assertConsistent(t, true)
}

func TestReconciler_Idempotent(t *testing.T) {
	e := newReconcileEnv(t)
	e.createStories(t, "alpha", "beta")
	testutil.MkdirRoot(t, e.store, "gamma", "delta")
	testutil.RemoveRoot(t, e.store, "beta")

	e.mustReconcile(t)
	first, _ := e.db.ListRecords()

	report := e.mustReconcile(t)
	if report.Changed() {
		t.Errorf("second pass changed the registry: %s", report)
	}
	second, _ := e.db.ListRecords()

	if len(first) != len(second) {
		t.Fatalf("record count changed from %d to %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Name != second[i].Name || !first[i].UpdatedAt.Equal(second[i].UpdatedAt) {
			t.Errorf("record %d changed: %+v -> %+v", i, first[i], second[i])
		}
	}
	e.assertConsistent(t, true)
}

func TestReconciler_OrphanCleanup(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha", "beta")
	e.mustAsset(t, recs["beta"].ID, "a.jpg")
	kept := e.mustAsset(t, recs["alpha"].ID, "b.jpg")

	testutil.RemoveRoot(t, e.store, "beta")

	report := e.mustReconcile(t)
	if joined(report.Deleted) != recs["beta"].ID {
		t.Errorf("Deleted = %v, want [%s]", report.Deleted, recs["beta"].ID)
	}
	if got := joined(e.recordNames(t)); got != "alpha" {
		t.Errorf("records = %s, want alpha", got)
	}
	if assets, _ := e.db.ListAssets(recs["beta"].ID); len(assets) != 0 {
		t.Errorf("orphan's assets survived: %+v", assets)
	}
	assets, _ := e.db.ListAssets(recs["alpha"].ID)
	if len(assets) != 1 || assets[0].ID != kept.ID {
		t.Errorf("matched folder's assets changed: %+v", assets)
	}
	e.assertConsistent(t, true)
}

func TestReconciler_UnregisteredDiscovery(t *testing.T) {
	e := newReconcileEnv(t)
	e.createStories(t, "alpha")
	testutil.MkdirRoot(t, e.store, "gamma")

	report := e.mustReconcile(t)
	if len(report.Created) != 1 {
		t.Fatalf("Created = %d records, want 1", len(report.Created))
	}

	created := report.Created[0]
	if created.Name != "gamma" || created.SiteID != e.site.ID {
		t.Errorf("created record = %+v", created)
	}
	path, stale, err := e.store.ResolveBookmark(created.Bookmark)
	if err != nil {
		t.Fatalf("ResolveBookmark() error = %v", err)
	}
	if path != filepath.Join(e.store.Root(), "gamma") || stale {
		t.Errorf("bookmark resolves to %s (stale=%v)", path, stale)
	}
}

func TestReconciler_UnregisteredInLexicalOrder(t *testing.T) {
	e := newReconcileEnv(t)
	testutil.MkdirRoot(t, e.store, "zeta", "Beta", "alpha")

	report := e.mustReconcile(t)
	var names []string
	for _, r := range report.Created {
		names = append(names, r.Name)
	}
	if got := joined(names); got != "Beta,alpha,zeta" {
		t.Errorf("creation order = %s, want Beta,alpha,zeta", got)
	}
}

func TestReconciler_MatchedPairStability(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha")

	report := e.mustReconcile(t)
	if report.Changed() {
		t.Errorf("report = %s, want no changes", report)
	}
	got, _ := e.db.FindRecord(recs["alpha"].ID)
	if got == nil {
		t.Fatal("matched record was deleted")
	}
}

func TestReconciler_ExternalRename(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha")
	e.mustAsset(t, recs["alpha"].ID, "a.jpg")

	if err := os.Rename(filepath.Join(e.store.Root(), "alpha"), filepath.Join(e.store.Root(), "Alpha Final")); err != nil {
		t.Fatal(err)
	}

	// The record's folder is gone and a new one appeared.
	e.assertConsistent(t, false)

	report := e.mustReconcile(t)
	if joined(report.Deleted) != recs["alpha"].ID {
		t.Errorf("Deleted = %v, want [%s]", report.Deleted, recs["alpha"].ID)
	}
	if len(report.Created) != 1 || report.Created[0].Name != "Alpha Final" {
		t.Errorf("Created = %+v, want Alpha Final", report.Created)
	}
	if assets, _ := e.db.ListAssets(recs["alpha"].ID); len(assets) != 0 {
		t.Errorf("old record's assets survived: %+v", assets)
	}
	e.assertConsistent(t, true)

	if report := e.mustReconcile(t); report.Changed() {
		t.Errorf("second pass = %s, want no changes", report)
	}
}

func TestReconciler_SymlinkedFolder(t *testing.T) {
	e := newReconcileEnv(t)
	testutil.MkdirRoot(t, e.store, "alpha")
	if err := os.Symlink(filepath.Join(e.store.Root(), "alpha"), filepath.Join(e.store.Root(), "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	report := e.mustReconcile(t)
	if len(report.Created) != 1 || report.Created[0].Name != "alpha" {
		t.Errorf("Created = %+v, want one record for alpha", report.Created)
	}
	e.assertConsistent(t, true)

	if report := e.mustReconcile(t); report.Changed() {
		t.Errorf("second pass = %s, want no changes", report)
	}
	if got := joined(e.recordNames(t)); got != "alpha" {
		t.Errorf("records = %s, want alpha", got)
	}
}

func TestReconciler_Duplicates(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha")

	dup, err := e.db.CreateRecord(e.site.ID, recs["alpha"].Bookmark, "alpha copy")
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	e.assertConsistent(t, false)

	report := e.mustReconcile(t)
	if joined(report.Deleted) != dup.ID {
		t.Errorf("Deleted = %v, want the newer duplicate %s", report.Deleted, dup.ID)
	}
	if got, _ := e.db.FindRecord(recs["alpha"].ID); got == nil {
		t.Error("oldest record was deleted")
	}
	e.assertConsistent(t, true)
}

func TestReconciler_RemovedRecords(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha", "beta")

	if err := e.svc.RemoveStory(recs["beta"].ID, false); err != nil {
		t.Fatalf("RemoveStory() error = %v", err)
	}

	// beta's folder is still on disk without a live record.
	e.assertConsistent(t, false)

	report := e.mustReconcile(t)
	if got, _ := e.db.FindRecord(recs["beta"].ID); got != nil {
		t.Error("removed record survived reconciliation")
	}
	if len(report.Created) != 1 || report.Created[0].Name != "beta" {
		t.Errorf("Created = %+v, want a fresh record for beta", report.Created)
	}
	if report.Created[0].ID == recs["beta"].ID {
		t.Error("fresh record reused the removed record's ID")
	}
	e.assertConsistent(t, true)
}

func TestReconciler_RemovedRecordOfMissingFolder(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha", "beta")
	e.db.MarkRecordRemoved(recs["beta"].ID)
	testutil.RemoveRoot(t, e.store, "beta")

	e.assertConsistent(t, true)

	e.mustReconcile(t)
	if got := joined(e.recordNames(t)); got != "alpha" {
		t.Errorf("records = %s, want alpha", got)
	}
}

func TestReconciler_TrashedFolder(t *testing.T) {
	e := newReconcileEnv(t)
	recs := e.createStories(t, "alpha", "beta")

	trash := filepath.Join(e.store.Root(), ".Trash")
	if err := os.Mkdir(trash, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(e.store.Root(), "beta"), filepath.Join(trash, "beta")); err != nil {
		t.Fatal(err)
	}

	e.assertConsistent(t, false)

	e.mustReconcile(t)
	if got, _ := e.db.FindRecord(recs["beta"].ID); got != nil {
		t.Error("record of trashed folder survived")
	}
	if got := joined(e.recordNames(t)); got != "alpha" {
		t.Errorf("records = %s, want alpha", got)
	}
	e.assertConsistent(t, true)
}

func TestReconciler_RecordsOfOtherSites(t *testing.T) {
	e := newReconcileEnv(t)
	news := testutil.NewTestSite(t, e.db, "news")
	if _, err := e.svc.CreateStory(news.ID, "alpha"); err != nil {
		t.Fatal(err)
	}

	// The folder is claimed by the other site's record.
	e.assertConsistent(t, true)
	if report := e.mustReconcile(t); report.Changed() {
		t.Errorf("report = %s, want no changes", report)
	}
}

func TestReconciler_FailuresDoNotAbort(t *testing.T) {
	store := testutil.NewTestStore(t)
	db := testutil.NewTestDatabase(t)
	site := testutil.NewTestSite(t, db, "blog")
	failing := testutil.NewFailingRegistry(db)
	svc := story.NewService(store, db, story.NewNopLogger())
	rec := story.NewReconciler(store, failing, site.ID, story.NewNopLogger())

	alpha, _ := svc.CreateStory(site.ID, "alpha")
	beta, _ := svc.CreateStory(site.ID, "beta")
	testutil.RemoveRoot(t, store, "alpha", "beta")
	testutil.MkdirRoot(t, store, "gamma", "delta")

	failing.FailDelete(alpha.ID)
	failing.FailCreate("delta")

	report, err := rec.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Failures != 2 {
		t.Errorf("Failures = %d, want 2", report.Failures)
	}
	if joined(report.Deleted) != beta.ID {
		t.Errorf("Deleted = %v, want [%s]", report.Deleted, beta.ID)
	}
	if len(report.Created) != 1 || report.Created[0].Name != "gamma" {
		t.Errorf("Created = %+v, want gamma", report.Created)
	}

	if inconsistent, _ := rec.HasInconsistencies(); !inconsistent {
		t.Error("HasInconsistencies() = false with failed repairs outstanding")
	}

	failing.Heal()
	report, err = rec.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Failures != 0 || len(report.Created) != 1 || len(report.Deleted) != 1 {
		t.Errorf("retry report = %s", report)
	}
	if inconsistent, _ := rec.HasInconsistencies(); inconsistent {
		t.Error("HasInconsistencies() = true after healed retry")
	}
}

func TestReconciler_RefreshFailures(t *testing.T) {
	store := testutil.NewTestStore(t)
	db := testutil.NewTestDatabase(t)
	site := testutil.NewTestSite(t, db, "blog")
	failing := testutil.NewFailingRegistry(db)
	svc := story.NewService(store, db, story.NewNopLogger())
	rec := story.NewReconciler(store, failing, site.ID, story.NewNopLogger())

	alpha, _ := svc.CreateStory(site.ID, "alpha")
	if err := db.RenameRecord(alpha.ID, "draft"); err != nil {
		t.Fatalf("RenameRecord() error = %v", err)
	}
	failing.FailRename(alpha.ID)

	report, err := rec.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Failures != 1 || report.Renamed != 0 || len(report.Deleted) != 0 {
		t.Errorf("report = %s, want one failure", report)
	}
	if got, _ := db.FindRecord(alpha.ID); got == nil || got.Name != "draft" {
		t.Errorf("record = %+v, want unchanged", got)
	}

	failing.Heal()
	report, _ = rec.Reconcile()
	if report.Renamed != 1 || report.Failures != 0 {
		t.Errorf("retry report = %s, want one rename", report)
	}
	if got, _ := db.FindRecord(alpha.ID); got == nil || got.Name != "alpha" {
		t.Errorf("record = %+v, want name refreshed to alpha", got)
	}
}

func TestReconciler_ListFailure(t *testing.T) {
	store := testutil.NewTestStore(t)
	db := testutil.NewTestDatabase(t)
	site := testutil.NewTestSite(t, db, "blog")
	failing := testutil.NewFailingRegistry(db)
	rec := story.NewReconciler(store, failing, site.ID, story.NewNopLogger())

	failing.FailList()

	if _, err := rec.Reconcile(); !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("Reconcile() error = %v, want ErrInjected", err)
	}
	if _, err := rec.HasInconsistencies(); !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("HasInconsistencies() error = %v, want ErrInjected", err)
	}
}

func TestReconciler_EmptyRoot(t *testing.T) {
	e := newReconcileEnv(t)

	e.assertConsistent(t, true)
	if report := e.mustReconcile(t); report.Changed() {
		t.Errorf("report = %s, want no changes", report)
	}
}
