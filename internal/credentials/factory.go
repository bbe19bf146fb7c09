package credentials

import (
	"fmt"

	"tb-go/internal/config"
	"tb-go/internal/tb"
)

// NewStoreFromConfig creates a CredentialStore based on the configuration type.
func NewStoreFromConfig(cfg config.CredentialsConfig) (tb.CredentialStore, error) {
	switch cfg.Type {
	case "file", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file credential store requires path to be set")
		}
		return NewFileStore(cfg.Path), nil
	case "memory":
		return NewMemoryStore(tb.Credential{}), nil
	default:
		return nil, fmt.Errorf("unknown credential store type: %q", cfg.Type)
	}
}
