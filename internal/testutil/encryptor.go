package testutil

import (
	"tb-go/internal/encryption"
	"tb-go/internal/tb"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() tb.Encryptor {
	return encryption.NewTestEncryptor()
}
