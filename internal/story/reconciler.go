package story

import (
	"fmt"
	"sort"

	"storyfs/internal/model"
)

// Reconciler restores a one-to-one correspondence between the story folders
// directly under the store's root and the registry's story folder records.
//
// It keeps no state between calls: every pass lists both sides afresh, so a
// pass interrupted half way is simply recomputed by the next one. Callers must
// not run two passes against the same root concurrently.
type Reconciler struct {
	store   FileStore
	records RecordStore
	siteID  string
	logger  Logger
}

// NewReconciler creates a Reconciler. Records created for unregistered folders
// are attached to siteID.
func NewReconciler(store FileStore, records RecordStore, siteID string, logger Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		records: records,
		siteID:  siteID,
		logger:  logger,
	}
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Created  []*model.StoryFolder
	Deleted  []string // IDs of deleted records
	Renamed  int
	Failures int
}

// Changed reports whether the pass mutated the registry.
func (r *ReconcileReport) Changed() bool {
	return len(r.Created) > 0 || len(r.Deleted) > 0 || r.Renamed > 0
}

func (r *ReconcileReport) String() string {
	return fmt.Sprintf("created=%d deleted=%d renamed=%d failed=%d",
		len(r.Created), len(r.Deleted), r.Renamed, r.Failures)
}

// matchedPair is a folder with exactly one live record.
type matchedPair struct {
	record *model.StoryFolder
	folder *FolderRef
}

// reconcilePlan is the diff between disk and registry at one point in time.
type reconcilePlan struct {
	removed      []*model.StoryFolder // flagged removed by the user or sync
	orphans      []*model.StoryFolder // folder gone, stale, trashed or outside the root
	duplicates   []*model.StoryFolder // second and later records for one folder
	unregistered []*FolderRef         // folders without a record, lexical order
	matched      []matchedPair
}

func (p *reconcilePlan) consistent() bool {
	return len(p.orphans) == 0 && len(p.duplicates) == 0 && len(p.unregistered) == 0
}

// HasInconsistencies reports whether the on-disk folder set differs from the
// set of folders referenced by non-removed records, or whether one folder is
// referenced by more than one record.
func (r *Reconciler) HasInconsistencies() (bool, error) {
	plan, err := r.plan()
	if err != nil {
		return false, err
	}
	return !plan.consistent(), nil
}

// Reconcile repairs drift between disk and registry:
//   - removed, orphaned and duplicate records are deleted with their assets
//   - unregistered folders get a new record, in lexical folder-name order
//   - matched records get their name refreshed from the folder name
//
// Each repair is attempted independently; failures are logged, counted in the
// report, and do not stop the pass. An error is returned only when either side
// cannot be listed.
func (r *Reconciler) Reconcile() (*ReconcileReport, error) {
	plan, err := r.plan()
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}

	var doomed []*model.StoryFolder
	doomed = append(doomed, plan.removed...)
	doomed = append(doomed, plan.orphans...)
	doomed = append(doomed, plan.duplicates...)
	for _, rec := range doomed {
		if err := r.records.DeleteRecord(rec.ID); err != nil {
			r.logger.Error("deleting story folder record failed", "id", rec.ID, "name", rec.Name, "error", err)
			report.Failures++
			continue
		}
		r.logger.Info("story folder record deleted", "id", rec.ID, "name", rec.Name)
		report.Deleted = append(report.Deleted, rec.ID)
	}

	for _, folder := range plan.unregistered {
		bookmark, err := r.store.Bookmark(folder.String())
		if err != nil {
			r.logger.Error("bookmarking unregistered folder failed", "path", folder.String(), "error", err)
			report.Failures++
			continue
		}
		rec, err := r.records.CreateRecord(r.siteID, bookmark, folder.Name())
		if err != nil {
			r.logger.Error("creating story folder record failed", "path", folder.String(), "error", err)
			report.Failures++
			continue
		}
		r.logger.Info("story folder registered", "id", rec.ID, "path", folder.String())
		report.Created = append(report.Created, rec)
	}

	for _, m := range plan.matched {
		if m.record.Name != m.folder.Name() {
			if err := r.records.RenameRecord(m.record.ID, m.folder.Name()); err != nil {
				r.logger.Error("refreshing record name failed", "id", m.record.ID, "error", err)
				report.Failures++
			} else {
				report.Renamed++
			}
		}
	}

	r.logger.Info("reconciliation finished", "summary", report.String())
	return report, nil
}

// plan lists both sides and classifies every record and folder.
// Records are visited oldest first so the oldest of several duplicates wins.
func (r *Reconciler) plan() (*reconcilePlan, error) {
	folders, err := r.store.ListFolders(r.store.Root())
	if err != nil {
		return nil, fmt.Errorf("listing story folders: %w", err)
	}

	records, err := r.records.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing story folder records: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	onDisk := make(map[string]*FolderRef, len(folders))
	for _, f := range folders {
		if r.store.IsTrashed(f.String()) {
			continue
		}
		onDisk[f.String()] = f
	}

	plan := &reconcilePlan{}
	claimed := make(map[string]bool, len(records))

	for _, rec := range records {
		if rec.Removed {
			plan.removed = append(plan.removed, rec)
			continue
		}

		path, stale, err := r.store.ResolveBookmark(rec.Bookmark)
		if err != nil {
			r.logger.Debug("bookmark did not resolve", "id", rec.ID, "name", rec.Name, "error", err)
			plan.orphans = append(plan.orphans, rec)
			continue
		}
		if stale {
			r.logger.Debug("bookmark is stale", "id", rec.ID, "name", rec.Name, "path", path)
			plan.orphans = append(plan.orphans, rec)
			continue
		}

		folder, ok := onDisk[path]
		if !ok {
			r.logger.Debug("bookmark resolved outside the story folder set", "id", rec.ID, "path", path)
			plan.orphans = append(plan.orphans, rec)
			continue
		}

		if claimed[path] {
			plan.duplicates = append(plan.duplicates, rec)
			continue
		}
		claimed[path] = true
		plan.matched = append(plan.matched, matchedPair{record: rec, folder: folder})
	}

	for _, f := range folders {
		if _, ok := onDisk[f.String()]; !ok || claimed[f.String()] {
			continue
		}
		claimed[f.String()] = true
		plan.unregistered = append(plan.unregistered, f)
	}
	sort.Slice(plan.unregistered, func(i, j int) bool {
		return plan.unregistered[i].Name() < plan.unregistered[j].Name()
	})

	return plan, nil
}
