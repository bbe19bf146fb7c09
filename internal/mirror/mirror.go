// Package mirror keeps encrypted copies of the post archives and the
// history database in a vault, and restores archives from them.
//
// A vault holds:
//
//	manifest.yaml                  (plaintext index of every mirrored archive)
//	archives/<account>.jsonl.age   (encrypted archive)
//	history/<hostID>.db.age        (encrypted history database snapshot)
package mirror

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"tb-go/internal/tb"
)

// ManifestObject is the vault object name of the manifest.
const ManifestObject = "manifest.yaml"

// Entry describes one mirrored archive.
type Entry struct {
	Account       string    `yaml:"account"`
	Object        string    `yaml:"object"`
	Records       int       `yaml:"records"`
	SHA256        string    `yaml:"sha256"`
	Size          int64     `yaml:"size"`
	EncryptedSize int64     `yaml:"encrypted_size"`
	MirroredAt    time.Time `yaml:"mirrored_at"`
}

// Manifest indexes the contents of a vault.
type Manifest struct {
	HostID    string    `yaml:"host_id"`
	UpdatedAt time.Time `yaml:"updated_at"`
	// History is the object holding the latest history snapshot and
	// HistoryVersion the highest operation ID it contains.
	History        string  `yaml:"history,omitempty"`
	HistoryVersion int64   `yaml:"history_version,omitempty"`
	Archives       []Entry `yaml:"archives"`
}

// Entry returns the entry for account, or nil.
func (m *Manifest) Entry(account string) *Entry {
	for i := range m.Archives {
		if m.Archives[i].Account == account {
			return &m.Archives[i]
		}
	}
	return nil
}

func (m *Manifest) put(e Entry) {
	if existing := m.Entry(e.Account); existing != nil {
		*existing = e
		return
	}
	m.Archives = append(m.Archives, e)
	sort.Slice(m.Archives, func(i, j int) bool { return m.Archives[i].Account < m.Archives[j].Account })
}

// Tracker records an operation in the history database.
type Tracker interface {
	Track(kind, account string, fn func() (int64, error)) error
}

// Mirror copies archives to a vault and back.
type Mirror struct {
	hostID    string
	archive   tb.Archive
	vault     tb.Vault
	encryptor tb.Encryptor
	database  tb.Database
	tracker   Tracker
	clock     tb.Clock
	logger    tb.Logger
}

// New creates a Mirror. database may be nil, in which case no history
// snapshot is uploaded.
func New(hostID string, archive tb.Archive, vault tb.Vault, encryptor tb.Encryptor, database tb.Database, tracker Tracker, clock tb.Clock, logger tb.Logger) *Mirror {
	return &Mirror{
		hostID:    hostID,
		archive:   archive,
		vault:     vault,
		encryptor: encryptor,
		database:  database,
		tracker:   tracker,
		clock:     clock,
		logger:    logger,
	}
}

// ArchiveObject is the vault object name of account's archive.
func ArchiveObject(account string) string {
	return "archives/" + account + ".jsonl.age"
}

// HistoryObject is the vault object name of hostID's history snapshot.
func HistoryObject(hostID string) string {
	return "history/" + hostID + ".db.age"
}

// LoadManifest reads the manifest from the vault. A vault without one
// yields an empty manifest.
func (m *Mirror) LoadManifest() (*Manifest, error) {
	var buf bytes.Buffer
	if err := m.vault.GetObject(ManifestObject, &buf); err != nil {
		if errors.Is(err, tb.ErrObjectNotFound) {
			return &Manifest{HostID: m.hostID}, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(buf.Bytes(), &manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &manifest, nil
}

func (m *Mirror) saveManifest(manifest *Manifest) error {
	manifest.HostID = m.hostID
	manifest.UpdatedAt = m.clock.Now().UTC()

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := m.vault.PutObject(ManifestObject, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// MirrorAccounts encrypts and uploads each account's archive, then the
// history snapshot, then the manifest. Every account is attempted; the
// returned error joins the per-account failures. The manifest keeps the
// previous entry of an account that failed.
func (m *Mirror) MirrorAccounts(accounts []string) ([]Entry, error) {
	manifest, err := m.LoadManifest()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	var errs []error
	for _, account := range accounts {
		err := m.tracker.Track(tb.OperationMirror, account, func() (int64, error) {
			entry, err := m.mirrorArchive(account)
			if err != nil {
				return 0, err
			}
			manifest.put(*entry)
			entries = append(entries, *entry)
			return int64(entry.Records), nil
		})
		if err != nil {
			m.logger.Error("mirror failed", "account", account, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", account, err))
		}
	}

	if m.database != nil {
		if err := m.mirrorHistory(manifest); err != nil {
			m.logger.Error("history snapshot failed", "error", err)
			errs = append(errs, err)
		}
	}

	if err := m.saveManifest(manifest); err != nil {
		errs = append(errs, err)
	}
	return entries, errors.Join(errs...)
}

func (m *Mirror) mirrorArchive(account string) (*Entry, error) {
	src, size, err := m.archive.Open(account)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer src.Close()

	// The archive only grows, so its first size bytes are a consistent
	// snapshot even while a sync appends to it.
	hasher := sha256.New()
	lines := &lineCounter{}
	counted := &countingReader{r: io.TeeReader(io.LimitReader(src, size), io.MultiWriter(hasher, lines))}

	object := ArchiveObject(account)
	encSize, err := m.encryptAndPut(object, counted, func() error {
		if counted.n != size {
			return fmt.Errorf("archive shrank while mirroring: expected %d bytes, read %d", size, counted.n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Account:       account,
		Object:        object,
		Records:       lines.n,
		SHA256:        hex.EncodeToString(hasher.Sum(nil)),
		Size:          size,
		EncryptedSize: encSize,
		MirroredAt:    m.clock.Now().UTC(),
	}
	m.logger.Info("archive mirrored", "account", account, "records", entry.Records, "bytes", encSize)
	return entry, nil
}

func (m *Mirror) mirrorHistory(manifest *Manifest) error {
	version, err := m.database.MaxOperationID()
	if err != nil {
		return fmt.Errorf("reading history version: %w", err)
	}

	dir, err := os.MkdirTemp("", "tb-history-*")
	if err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	defer os.RemoveAll(dir)

	snapshot := filepath.Join(dir, "history.db")
	if err := m.database.BackupTo(snapshot); err != nil {
		return fmt.Errorf("snapshotting history: %w", err)
	}

	f, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("opening history snapshot: %w", err)
	}
	defer f.Close()

	object := HistoryObject(m.hostID)
	if _, err := m.encryptAndPut(object, f, nil); err != nil {
		return err
	}

	manifest.History = object
	manifest.HistoryVersion = version
	m.logger.Info("history mirrored", "object", object, "version", version)
	return nil
}

// encryptAndPut encrypts r into a temp file so its size is known, then
// uploads it under object. A non-nil check runs before the upload and can
// veto it.
func (m *Mirror) encryptAndPut(object string, r io.Reader, check func() error) (int64, error) {
	tmp, err := os.CreateTemp("", "tb-mirror-*.age")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := m.encryptor.Encrypt(r, tmp); err != nil {
		return 0, fmt.Errorf("encrypting %s: %w", object, err)
	}
	if check != nil {
		if err := check(); err != nil {
			return 0, err
		}
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", object, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding %s: %w", object, err)
	}

	if err := m.vault.PutObject(object, tmp, size); err != nil {
		return 0, fmt.Errorf("uploading %s: %w", object, err)
	}
	return size, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// lineCounter counts complete lines, which are the archived records.
type lineCounter struct {
	n int
}

func (c *lineCounter) Write(p []byte) (int, error) {
	c.n += bytes.Count(p, []byte{'\n'})
	return len(p), nil
}
