package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"tb-go/internal/tb"
)

const fileExt = ".jsonl"

// FileArchive stores each account's history as a JSON Lines file:
//
//	<dir>/
//	  <account>.jsonl    (one raw post per line, newest first)
//
// A file is only ever appended to, one record per write, so a crash can
// leave at most one incomplete trailing line. Readers ignore it and the next
// appender truncates it.
type FileArchive struct {
	dir    string
	logger tb.Logger

	mu      sync.Mutex
	writing map[string]bool // accounts with an open appender
}

// NewFileArchive creates a FileArchive rooted at dir, creating dir if needed.
func NewFileArchive(dir string, logger tb.Logger) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchive{
		dir:     dir,
		logger:  logger,
		writing: make(map[string]bool),
	}, nil
}

// Path returns the archive file for account.
func (a *FileArchive) Path(account string) (string, error) {
	if account == "" || account == "." || account == ".." || strings.ContainsAny(account, `/\`) {
		return "", fmt.Errorf("invalid account name: %q", account)
	}
	return filepath.Join(a.dir, account+fileExt), nil
}

// Checkpoint derives the resume position from the last valid record.
func (a *FileArchive) Checkpoint(account string) (tb.Checkpoint, error) {
	var cp tb.Checkpoint
	err := a.Scan(account, func(rec tb.Record) error {
		cp.Count++
		cp.Cursor = rec.Post.Timestamp
		return nil
	})
	if err != nil {
		return tb.Checkpoint{}, err
	}
	return cp, nil
}

// Scan calls fn for every valid record in file order. A missing archive has
// no records.
func (a *FileArchive) Scan(account string, fn func(tb.Record) error) error {
	path, err := a.Path(account)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	_, err = readRecords(f, a.logger, account, fn)
	return err
}

// Open returns the raw archive file and its size.
func (a *FileArchive) Open(account string) (io.ReadCloser, int64, error) {
	path, err := a.Path(account)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat archive: %w", err)
	}
	return f, info.Size(), nil
}

// Accounts lists the accounts that have an archive file.
func (a *FileArchive) Accounts() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}

	var accounts []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		accounts = append(accounts, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(accounts)
	return accounts, nil
}

// OpenAppender opens account's archive for appending. Only one appender per
// account may be open at a time.
func (a *FileArchive) OpenAppender(account string) (tb.Appender, error) {
	path, err := a.Path(account)
	if err != nil {
		return nil, err
	}
	if err := a.acquire(account); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		a.release(account)
		return nil, fmt.Errorf("opening archive for append: %w", err)
	}

	dropped, err := trimPartialLine(f)
	if err != nil {
		f.Close()
		a.release(account)
		return nil, fmt.Errorf("repairing archive tail: %w", err)
	}
	if dropped > 0 {
		a.logger.Warn("truncated incomplete trailing record", "account", account, "bytes", dropped)
	}

	return &fileAppender{archive: a, account: account, f: f}, nil
}

// Replace validates the records read from r and swaps them in as account's
// archive. Malformed lines and a trailing incomplete line are dropped.
func (a *FileArchive) Replace(account string, r io.Reader) (int, error) {
	path, err := a.Path(account)
	if err != nil {
		return 0, err
	}
	if err := a.acquire(account); err != nil {
		return 0, err
	}
	defer a.release(account)

	tmp, err := os.CreateTemp(a.dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	count, err := readRecords(r, a.logger, account, func(rec tb.Record) error {
		if _, err := w.Write(rec.Raw); err != nil {
			return err
		}
		return w.WriteByte('\n')
	})
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing records: %w", err)
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("flushing records: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return 0, fmt.Errorf("setting archive permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return count, nil
}

func (a *FileArchive) acquire(account string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writing[account] {
		return fmt.Errorf("archive for %s is already open for writing", account)
	}
	a.writing[account] = true
	return nil
}

func (a *FileArchive) release(account string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.writing, account)
}

type fileAppender struct {
	archive *FileArchive
	account string
	f       *os.File
	line    []byte
	closed  bool
}

// Append writes rec followed by a newline in a single write.
func (w *fileAppender) Append(rec tb.Record) error {
	if bytes.IndexByte(rec.Raw, '\n') >= 0 {
		return fmt.Errorf("record %d spans multiple lines", rec.Post.ID)
	}
	w.line = append(append(w.line[:0], rec.Raw...), '\n')
	if _, err := w.f.Write(w.line); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	return nil
}

func (w *fileAppender) Sync() error {
	return w.f.Sync()
}

func (w *fileAppender) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.archive.release(w.account)
	return w.f.Close()
}

// readRecords decodes newline-terminated records from r and calls fn for each.
// Returns the number of records passed to fn.
func readRecords(r io.Reader, logger tb.Logger, account string, fn func(tb.Record) error) (int, error) {
	br := bufio.NewReader(r)
	count := 0
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return count, fmt.Errorf("reading archive: %w", err)
		}
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				logger.Debug("ignoring incomplete trailing record", "account", account, "line", lineNo)
			}
			return count, nil
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		rec, decodeErr := tb.DecodeRecord(line)
		if decodeErr != nil {
			logger.Warn("skipping malformed record", "account", account, "line", lineNo, "error", decodeErr)
			continue
		}
		if err := fn(rec); err != nil {
			return count, err
		}
		count++
	}
}

// trimPartialLine truncates f after its last newline and positions it at
// the end. Returns the number of bytes dropped.
func trimPartialLine(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	keep := int64(0)
	buf := make([]byte, 4096)
	for end := size; end > 0; {
		start := max(end-int64(len(buf)), 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			keep = start + int64(i) + 1
			break
		}
		end = start
	}

	if keep < size {
		if err := f.Truncate(keep); err != nil {
			return 0, err
		}
	}
	if _, err := f.Seek(keep, io.SeekStart); err != nil {
		return 0, err
	}
	return size - keep, nil
}

// Compile-time check that FileArchive implements tb.Archive interface
var _ tb.Archive = (*FileArchive)(nil)
