package encryption

import (
	"fmt"

	"tb-go/internal/config"
	"tb-go/internal/tb"
)

// NewEncryptorFromConfig creates the mirror Encryptor named by cfg.Type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (tb.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
