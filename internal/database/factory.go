package database

import (
	"fmt"
	"path/filepath"

	"dropwatch-go/internal/config"
	"dropwatch-go/internal/core"
)

// NewDatabaseFromConfig creates a Database implementation based on the
// database config type, and ensures its schema is migrated to the latest
// version before returning.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (core.Database, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		path = filepath.Join(cfg.DataDir, hostID+".db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}
