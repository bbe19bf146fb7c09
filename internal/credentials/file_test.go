package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tb-go/internal/config"
	"tb-go/internal/tb"
)

var testCred = tb.Credential{
	AccessToken:  "access-1",
	RefreshToken: "refresh-1",
	ExpiresAt:    time.Date(2024, 1, 15, 11, 30, 0, 0, time.UTC),
	Scope:        "basic write offline_access",
}

func TestFileStore_Load(t *testing.T) {
	t.Run("missing file reports missing credential", func(t *testing.T) {
		s := NewFileStore(filepath.Join(t.TempDir(), "credentials.toml"))

		_, err := s.Load()
		if !errors.Is(err, tb.ErrMissingCredential) {
			t.Errorf("Load() error = %v, want ErrMissingCredential", err)
		}
		if !s.AnyMissing() {
			t.Error("AnyMissing() = false, want true")
		}
	})

	t.Run("incomplete pair reports missing credential", func(t *testing.T) {
		s := NewFileStore(filepath.Join(t.TempDir(), "credentials.toml"))
		if err := s.Save(tb.Credential{AccessToken: "only-access"}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		if _, err := s.Load(); !errors.Is(err, tb.ErrMissingCredential) {
			t.Errorf("Load() error = %v, want ErrMissingCredential", err)
		}
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.toml")
		if err := os.WriteFile(path, []byte("[credential\n"), 0600); err != nil {
			t.Fatal(err)
		}

		_, err := NewFileStore(path).Load()
		if err == nil || errors.Is(err, tb.ErrMissingCredential) {
			t.Errorf("Load() error = %v, want a decode error", err)
		}
	})
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "credentials.toml")
	s := NewFileStore(path)

	if err := s.Save(testCred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != testCred.AccessToken || got.RefreshToken != testCred.RefreshToken || got.Scope != testCred.Scope {
		t.Errorf("Load() = %+v, want %+v", got, testCred)
	}
	if !got.ExpiresAt.Equal(testCred.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, testCred.ExpiresAt)
	}
	if s.AnyMissing() {
		t.Error("AnyMissing() = true after Save")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want no leftover temp files", len(entries))
	}
}

func TestFileStore_SaveReplaces(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "credentials.toml"))
	if err := s.Save(testCred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	next := testCred
	next.AccessToken = "access-2"
	if err := s.Save(next); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, "access-2")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(tb.Credential{})
	if !s.AnyMissing() {
		t.Error("AnyMissing() = false for empty store")
	}
	if err := s.Save(testCred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != testCred.AccessToken {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, testCred.AccessToken)
	}
	if s.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", s.Saves())
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CredentialsConfig
		wantErr bool
	}{
		{name: "file", cfg: config.CredentialsConfig{Type: "file", Path: "/tmp/creds.toml"}},
		{name: "default type is file", cfg: config.CredentialsConfig{Path: "/tmp/creds.toml"}},
		{name: "file without path", cfg: config.CredentialsConfig{Type: "file"}, wantErr: true},
		{name: "memory", cfg: config.CredentialsConfig{Type: "memory"}},
		{name: "unknown", cfg: config.CredentialsConfig{Type: "keyring"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewStoreFromConfig() returned nil store")
			}
		})
	}
}
