package database

import (
	"testing"

	"tb-go/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database is migrated on open", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewDatabaseFromConfig(cfg, "test-host-123")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database after init", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: t.TempDir(),
		}
		if err := InitFromConfig(cfg, "test-host-123"); err != nil {
			t.Fatalf("InitFromConfig() error = %v", err)
		}

		got, err := NewDatabaseFromConfig(cfg, "test-host-123")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite database before init", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: t.TempDir(),
		}
		got, err := NewDatabaseFromConfig(cfg, "test-host-123")
		if err == nil {
			got.Close()
			t.Fatal("NewDatabaseFromConfig() expected error for unmigrated database, got nil")
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewDatabaseFromConfig(cfg, "test-host-123")

		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewDatabaseFromConfig(cfg, "test-host-123")

		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})
}

func TestInitFromConfig(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
		if err := InitFromConfig(cfg, "h"); err != nil {
			t.Fatalf("first InitFromConfig() error = %v", err)
		}
		if err := InitFromConfig(cfg, "h"); err != nil {
			t.Fatalf("second InitFromConfig() error = %v", err)
		}
	})

	t.Run("memory database needs no init", func(t *testing.T) {
		if err := InitFromConfig(config.DatabaseConfig{Type: "memory"}, "h"); err != nil {
			t.Fatalf("InitFromConfig() error = %v", err)
		}
	})
}
