package database

import (
	"fmt"
	"os"
	"path/filepath"

	"tb-go/internal/config"
)

// NewDatabaseFromConfig opens the history database described by cfg.
// In-memory databases are migrated on open; file databases must already be
// current and are checked instead.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		db, err := NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"))
		if err != nil {
			return nil, err
		}
		if err := db.CheckMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("database schema out of date (run `tb config init`): %w", err)
		}
		return db, nil
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// InitFromConfig creates the database described by cfg if needed and brings
// its schema up to date.
func InitFromConfig(cfg config.DatabaseConfig, hostID string) error {
	if cfg.Type != "sqlite" {
		return nil
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir required for sqlite database")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	db, err := NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}
