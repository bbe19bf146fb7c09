package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tb-go/internal/database/migrations"
	"tb-go/internal/tb"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers from parallel account syncs and
	// keeps ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(kind, account string, startedAt time.Time) (*tb.Operation, error) {
	res, err := s.db.ExecContext(context.Background(),
		`INSERT INTO operations (kind, account, started_at, status) VALUES (?, ?, ?, ?)`,
		kind, account, startedAt.UTC(), tb.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}

	return &tb.Operation{
		ID:        id,
		Kind:      kind,
		Account:   account,
		StartedAt: startedAt.UTC(),
		Status:    tb.StatusRunning,
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, finishedAt time.Time, status string, records int64, detail string) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE operations SET finished_at = ?, status = ?, records = ?, detail = ? WHERE id = ?`,
		finishedAt.UTC(), status, records, detail, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*tb.Operation, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, kind, account, started_at, finished_at, status, records, detail
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*tb.Operation
	for rows.Next() {
		var op tb.Operation
		if err := rows.Scan(&op.ID, &op.Kind, &op.Account, &op.StartedAt, &op.FinishedAt, &op.Status, &op.Records, &op.Detail); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	err := s.db.QueryRowContext(context.Background(), `SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrateUp applies any pending schema migrations.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
// destPath must not exist.
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

// Compile-time check that SQLiteDatabase implements tb.Database interface
var _ tb.Database = (*SQLiteDatabase)(nil)
