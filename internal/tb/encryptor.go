package tb

import "io"

// Encryptor encrypts archive mirrors before they leave the machine.
// Encryption uses the public key only, so mirroring needs no passphrase.
// Decryption requires a passphrase to unlock the private key.
type Encryptor interface {
	// Setup performs one-time key generation, storing the private key
	// encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context for restoring.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the duration
// of a restore. The unlocked key is never written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
