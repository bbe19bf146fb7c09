package tb

import "io"

// Vault is off-machine storage for archive mirrors.
// All operations stream through io.Reader/io.Writer.
type Vault interface {
	// PutObject stores size bytes read from r under name, replacing any
	// previous object with that name.
	PutObject(name string, r io.Reader, size int64) error

	// GetObject writes the object stored under name to w.
	GetObject(name string, w io.Writer) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
