package testutil

import (
	"testing"

	"storyfs/internal/database"
	"storyfs/internal/model"
	"storyfs/internal/story"
)

// NewTestDatabase creates an in-memory registry with migrations applied, a
// ticking stub clock and sequential IDs. It is closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()
	return NewTestDatabaseWith(t, TickingClock(), NewStubIDGenerator())
}

// NewTestDatabaseWith is NewTestDatabase with a caller-supplied clock and ID generator.
func NewTestDatabaseWith(t *testing.T, clock story.Clock, ids story.IDGenerator) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", clock, ids)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// NewTestSite creates a site in db and fails the test on error.
func NewTestSite(t *testing.T, db story.Registry, name string) *model.Site {
	t.Helper()
	site, err := db.CreateSite(name, "https://"+name+".example.com")
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}
	return site
}
