package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tb-go/internal/tb"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

var testStart = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func TestSQLiteDatabase_CreateOperation(t *testing.T) {
	t.Run("assigns increasing ids", func(t *testing.T) {
		db := newTestDB(t)

		first, err := db.CreateOperation(tb.OperationSync, "staff", testStart)
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}
		second, err := db.CreateOperation(tb.OperationSync, "changes", testStart)
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}

		if first.ID <= 0 || second.ID <= first.ID {
			t.Errorf("ids = %d, %d, want positive and increasing", first.ID, second.ID)
		}
		if first.Status != tb.StatusRunning {
			t.Errorf("Status = %q, want %q", first.Status, tb.StatusRunning)
		}
	})
}

func TestSQLiteDatabase_FinishOperation(t *testing.T) {
	t.Run("records outcome", func(t *testing.T) {
		db := newTestDB(t)

		op, err := db.CreateOperation(tb.OperationSync, "staff", testStart)
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}

		finished := testStart.Add(time.Minute)
		if err := db.FinishOperation(op.ID, finished, tb.StatusError, 42, "rate limited"); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}

		ops, err := db.ListOperations(10)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 1 {
			t.Fatalf("len(ops) = %d, want 1", len(ops))
		}

		got := ops[0]
		if got.Status != tb.StatusError || got.Records != 42 || got.Detail != "rate limited" {
			t.Errorf("op = %+v, want error with 42 records", got)
		}
		if !got.FinishedAt.Valid || !got.FinishedAt.Time.Equal(finished) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
		}
		if !got.StartedAt.Equal(testStart) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, testStart)
		}
	})

	t.Run("returns error for unknown id", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.FinishOperation(999, testStart, tb.StatusSuccess, 0, ""); err == nil {
			t.Error("FinishOperation() expected error for unknown id")
		}
	})
}

func TestSQLiteDatabase_ListOperations(t *testing.T) {
	db := newTestDB(t)

	for _, account := range []string{"a", "b", "c"} {
		if _, err := db.CreateOperation(tb.OperationSync, account, testStart); err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}
	}

	ops, err := db.ListOperations(2)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(ops))
	}
	if ops[0].Account != "c" || ops[1].Account != "b" {
		t.Errorf("accounts = %q, %q, want newest first (c, b)", ops[0].Account, ops[1].Account)
	}
	if ops[0].FinishedAt.Valid {
		t.Error("unfinished operation has FinishedAt set")
	}
}

func TestSQLiteDatabase_MaxOperationID(t *testing.T) {
	db := newTestDB(t)

	id, err := db.MaxOperationID()
	if err != nil {
		t.Fatalf("MaxOperationID() error = %v", err)
	}
	if id != 0 {
		t.Errorf("MaxOperationID() on empty db = %d, want 0", id)
	}

	op, err := db.CreateOperation(tb.OperationMirror, "", testStart)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	id, err = db.MaxOperationID()
	if err != nil {
		t.Fatalf("MaxOperationID() error = %v", err)
	}
	if id != op.ID {
		t.Errorf("MaxOperationID() = %d, want %d", id, op.ID)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateOperation(tb.OperationSync, "staff", testStart); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("backup file not created: %v", err)
	}

	copyDB, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer copyDB.Close()

	ops, err := copyDB.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() on backup error = %v", err)
	}
	if len(ops) != 1 || ops[0].Account != "staff" {
		t.Errorf("backup operations = %v, want the staff sync", ops)
	}
}
