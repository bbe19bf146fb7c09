package mirror

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"tb-go/internal/tb"
)

// Restore downloads and decrypts each account's mirrored archive and swaps
// it in locally. With no accounts, every archive in the manifest is
// restored. The decrypted archive must match the manifest checksum before
// the local archive is touched. Returns the records restored per account.
func (m *Mirror) Restore(accounts []string, passphrase string) (map[string]int, error) {
	manifest, err := m.LoadManifest()
	if err != nil {
		return nil, err
	}

	if len(accounts) == 0 {
		for _, e := range manifest.Archives {
			accounts = append(accounts, e.Account)
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("vault has no mirrored archives")
		}
	}

	for _, account := range accounts {
		if manifest.Entry(account) == nil {
			return nil, fmt.Errorf("no mirror of %s in the vault", account)
		}
	}

	decryptCtx, err := m.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	restored := make(map[string]int)
	var errs []error
	for _, account := range accounts {
		entry := manifest.Entry(account)
		err := m.tracker.Track(tb.OperationRestore, account, func() (int64, error) {
			n, err := m.restoreArchive(entry, decryptCtx)
			if err != nil {
				return 0, err
			}
			restored[account] = n
			return int64(n), nil
		})
		if err != nil {
			m.logger.Error("restore failed", "account", account, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", account, err))
		}
	}
	return restored, errors.Join(errs...)
}

func (m *Mirror) restoreArchive(entry *Entry, decryptCtx tb.DecryptionContext) (int, error) {
	tmp, err := os.CreateTemp("", "tb-restore-*.jsonl")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := m.vault.GetObject(entry.Object, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	hasher := sha256.New()
	decryptErr := decryptCtx.Decrypt(pr, io.MultiWriter(tmp, hasher))
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	// A failed decrypt closes the pipe, so the download then fails with the
	// decrypt error.
	if vaultErr != nil && !errors.Is(vaultErr, decryptErr) {
		return 0, fmt.Errorf("downloading %s: %w", entry.Object, vaultErr)
	}
	if decryptErr != nil {
		return 0, fmt.Errorf("decrypting %s: %w", entry.Object, decryptErr)
	}

	if sum := hex.EncodeToString(hasher.Sum(nil)); sum != entry.SHA256 {
		return 0, fmt.Errorf("checksum mismatch for %s: manifest %s, got %s", entry.Object, entry.SHA256, sum)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding restored archive: %w", err)
	}
	n, err := m.archive.Replace(entry.Account, tmp)
	if err != nil {
		return 0, fmt.Errorf("replacing archive: %w", err)
	}

	m.logger.Info("archive restored", "account", entry.Account, "records", n)
	return n, nil
}

// CheckHistory reports an error when the vault holds a history snapshot
// newer than the local database, which means another run on this host
// mirrored operations this database never saw.
func (m *Mirror) CheckHistory() error {
	if m.database == nil {
		return nil
	}
	manifest, err := m.LoadManifest()
	if err != nil {
		return err
	}
	local, err := m.database.MaxOperationID()
	if err != nil {
		return fmt.Errorf("reading history version: %w", err)
	}
	if manifest.HistoryVersion > local {
		return fmt.Errorf("local history is behind the vault (local=%d, vault=%d)", local, manifest.HistoryVersion)
	}
	return nil
}
