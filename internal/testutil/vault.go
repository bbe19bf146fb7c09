package testutil

import (
	"tb-go/internal/tb"
	"tb-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}

var _ tb.Vault = (*vault.MemoryVault)(nil)
