package encryption

import (
	"bytes"
	"fmt"
	"io"

	"tb-go/internal/tb"
)

// mirrorMagic and mirrorFormat open every object sealed by TestEncryptor.
var mirrorMagic = []byte("TBMIRROR")

const mirrorFormat byte = 1

// RejectedPassphrase is refused by a TestEncryptor that was never set up.
const RejectedPassphrase = "wrong"

// TestEncryptor stands in for AgeEncryptor where key files and scrypt would
// only slow things down. Objects are the plaintext behind a magic and format
// byte, so a mirrored archive never equals its source but round-trips
// exactly. Once Setup has run, Unlock accepts only that passphrase.
type TestEncryptor struct {
	passphrase string
}

var _ tb.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup follows AgeEncryptor's rules: the passphrase must be non-empty and
// keys are created only once.
func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if e.passphrase != "" {
		return ErrKeysExist
	}
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(append(append([]byte{}, mirrorMagic...), mirrorFormat)); err != nil {
		return fmt.Errorf("writing mirror header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("sealing: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (tb.DecryptionContext, error) {
	switch {
	case e.passphrase != "" && passphrase != e.passphrase,
		e.passphrase == "" && passphrase == RejectedPassphrase:
		return nil, fmt.Errorf("unsealing private key: incorrect passphrase")
	}
	return &TestDecryptionContext{}, nil
}

// IsConfigured is always true: objects can be sealed without Setup.
func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext opens objects sealed by TestEncryptor.
type TestDecryptionContext struct{}

var _ tb.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(mirrorMagic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading mirror header: %w", err)
	}
	if !bytes.Equal(header[:len(mirrorMagic)], mirrorMagic) {
		return fmt.Errorf("not a mirror object")
	}
	if v := header[len(mirrorMagic)]; v != mirrorFormat {
		return fmt.Errorf("unsupported mirror format %d", v)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("unsealing: %w", err)
	}
	return nil
}
