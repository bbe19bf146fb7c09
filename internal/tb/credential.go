package tb

import "time"

// Credential is a delegated-authorization token pair.
// ExpiresAt is always derived from the grant that produced AccessToken.
type Credential struct {
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	ExpiresAt    time.Time `toml:"expires_at"`
	Scope        string    `toml:"scope"`
}

// AnyMissing returns true if either token is empty.
func (c Credential) AnyMissing() bool {
	return c.AccessToken == "" || c.RefreshToken == ""
}

// Valid reports whether the access token can still be used at now, keeping
// margin in reserve so a request never leaves with a token about to expire.
func (c Credential) Valid(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt.Add(-margin))
}

// CredentialStore persists the single credential used against the remote API.
type CredentialStore interface {
	// Load returns the stored credential, or ErrMissingCredential if none is stored.
	Load() (Credential, error)

	// Save replaces the stored credential atomically: a crash during Save
	// leaves the previous credential intact.
	Save(cred Credential) error

	// AnyMissing returns true if no complete credential is stored.
	AnyMissing() bool
}
