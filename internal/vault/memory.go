package vault

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"tb-go/internal/tb"
)

// MemoryVault keeps mirror objects in memory. Safe for concurrent use.
type MemoryVault struct {
	name    string
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		objects: make(map[string][]byte),
	}
}

// PutObject stores the object under name.
func (m *MemoryVault) PutObject(name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return nil
}

// GetObject writes the object stored under name to w.
func (m *MemoryVault) GetObject(name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", tb.ErrObjectNotFound, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Names lists the stored object names in order.
func (m *MemoryVault) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSetup always succeeds for an in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ tb.Vault = (*MemoryVault)(nil)
