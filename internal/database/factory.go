package database

import (
	"fmt"
	"os"
	"path/filepath"

	"storyfs/internal/config"
	"storyfs/internal/story"
)

// NewDatabaseFromConfig opens the registry selected by the database config
// type. The sqlite registry lives at <data_dir>/<hostID>.db.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string, clock story.Clock, ids story.IDGenerator) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(DatabasePath(cfg, hostID), clock, ids)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock, ids)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// DatabasePath returns the registry file for hostID, or ":memory:".
func DatabasePath(cfg config.DatabaseConfig, hostID string) string {
	if cfg.Type == "memory" {
		return ":memory:"
	}
	return filepath.Join(cfg.DataDir, hostID+".db")
}
