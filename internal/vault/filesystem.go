package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"tb-go/internal/tb"
)

// FileSystemVault stores mirror objects as files under a root directory.
// Object names map to relative paths:
//
//	<root>/
//	  manifest.yaml
//	  archives/
//	    <account>.jsonl.age
//	  history/
//	    <hostID>.db
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a filesystem vault rooted at root.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

// objectPath resolves name inside the vault root, rejecting names that
// would escape it.
func (v *FileSystemVault) objectPath(name string) (string, error) {
	clean := path.Clean(name)
	if name == "" || path.IsAbs(name) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid object name: %q", name)
	}
	return filepath.Join(v.root, filepath.FromSlash(clean)), nil
}

// PutObject stores the object under name, replacing it atomically.
func (v *FileSystemVault) PutObject(name string, r io.Reader, size int64) error {
	dest, err := v.objectPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	return writeFile(dest, r, size)
}

// GetObject writes the object stored under name to w.
func (v *FileSystemVault) GetObject(name string, w io.Writer) error {
	src, err := v.objectPath(name)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", tb.ErrObjectNotFound, name)
		}
		return fmt.Errorf("failed to open object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault root is a writable directory.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	probe, err := os.CreateTemp(v.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// writeFile writes data from r to destPath using a temp file and rename.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ tb.Vault = (*FileSystemVault)(nil)
