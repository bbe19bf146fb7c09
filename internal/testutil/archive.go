package testutil

import (
	"testing"

	"tb-go/internal/archive"
	"tb-go/internal/tb"
)

// NewTestArchive creates a file archive in a temporary directory.
func NewTestArchive(t *testing.T) *archive.FileArchive {
	t.Helper()

	a, err := archive.NewFileArchive(t.TempDir(), tb.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	return a
}

// SeedArchive appends records to account's archive.
func SeedArchive(t *testing.T, a tb.Archive, account string, records ...tb.Record) {
	t.Helper()

	w, err := a.OpenAppender(account)
	if err != nil {
		t.Fatalf("OpenAppender() error = %v", err)
	}
	defer w.Close()

	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}
