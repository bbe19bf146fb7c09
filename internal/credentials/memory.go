package credentials

import (
	"sync"

	"tb-go/internal/tb"
)

// MemoryStore keeps the credential in memory. Useful for tests and for
// one-off runs with tokens supplied by the caller.
type MemoryStore struct {
	mu    sync.Mutex
	cred  tb.Credential
	saves int
}

// NewMemoryStore creates a MemoryStore holding cred.
func NewMemoryStore(cred tb.Credential) *MemoryStore {
	return &MemoryStore{cred: cred}
}

func (s *MemoryStore) Load() (tb.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred.AnyMissing() {
		return tb.Credential{}, tb.ErrMissingCredential
	}
	return s.cred, nil
}

func (s *MemoryStore) Save(cred tb.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.saves++
	return nil
}

func (s *MemoryStore) AnyMissing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.AnyMissing()
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

var _ tb.CredentialStore = (*MemoryStore)(nil)
