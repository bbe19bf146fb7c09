package tb

import "io"

// Checkpoint is the resume position derived from an account's archive.
type Checkpoint struct {
	// Cursor is the timestamp of the oldest archived post, or 0 when the
	// archive is empty and the walk starts from the newest post.
	Cursor int64
	// Count is the number of valid records in the archive.
	Count int
}

// Appender appends records to one account's archive.
type Appender interface {
	// Append writes one record as a single line.
	Append(rec Record) error
	// Sync makes every appended record durable.
	Sync() error
	Close() error
}

// Archive stores one append-only post history per account. The archive is
// its own checkpoint: the last record determines where a sync resumes.
type Archive interface {
	// Checkpoint derives the resume position for account.
	Checkpoint(account string) (Checkpoint, error)

	// OpenAppender opens account's archive for appending, creating it if needed.
	OpenAppender(account string) (Appender, error)

	// Scan calls fn for every valid record in file order. A trailing
	// incomplete line is ignored and malformed lines are skipped.
	Scan(account string, fn func(Record) error) error

	// Open returns a reader over the raw archive file and its size.
	Open(account string) (io.ReadCloser, int64, error)

	// Accounts lists the accounts that have an archive, sorted by name.
	Accounts() ([]string, error)

	// Replace atomically swaps account's archive for the records read from r.
	// Returns the number of records written.
	Replace(account string, r io.Reader) (int, error)
}
