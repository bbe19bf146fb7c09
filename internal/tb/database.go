package tb

import (
	"database/sql"
	"time"
)

// Operation kinds recorded in the history database.
const (
	OperationSync    = "Sync"
	OperationMirror  = "Mirror"
	OperationRestore = "Restore"
	OperationDraft   = "Draft"
)

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one recorded run of a command against one account.
type Operation struct {
	ID         int64
	Kind       string
	Account    string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
	Records    int64
	Detail     string
}

// Database records operation history.
type Database interface {
	// CreateOperation records the start of an operation and returns it with its ID.
	CreateOperation(kind, account string, startedAt time.Time) (*Operation, error)

	// FinishOperation records the outcome of an operation.
	FinishOperation(id int64, finishedAt time.Time, status string, records int64, detail string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*Operation, error)

	// MaxOperationID returns the highest operation ID, or 0 when none exist.
	MaxOperationID() (int64, error)

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	Close() error
}
