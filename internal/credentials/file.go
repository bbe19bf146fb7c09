package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"tb-go/internal/tb"
)

// FileStore keeps the credential in a TOML file readable only by its owner.
// Saves go through a temporary sibling that is synced and renamed into place,
// so a reader never sees a half-written token pair.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// fileFormat is the on-disk layout.
type fileFormat struct {
	Credential tb.Credential `toml:"credential"`
}

func (s *FileStore) Load() (tb.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc fileFormat
	if _, err := toml.DecodeFile(s.path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tb.Credential{}, tb.ErrMissingCredential
		}
		return tb.Credential{}, fmt.Errorf("reading credential file: %w", err)
	}
	if doc.Credential.AnyMissing() {
		return tb.Credential{}, tb.ErrMissingCredential
	}
	return doc.Credential, nil
}

func (s *FileStore) Save(cred tb.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting credential file: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(fileFormat{Credential: cred}); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credential file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing credential file: %w", err)
	}

	success = true
	return nil
}

func (s *FileStore) AnyMissing() bool {
	_, err := s.Load()
	return err != nil
}

var _ tb.CredentialStore = (*FileStore)(nil)
