package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:   "test-host-abc",
		BaseDir:  "/home/user/.local/share/tb",
		LogDir:   "/home/user/.local/share/tb/log",
		DataDir:  "/home/user/.local/share/tb/data",
		Accounts: []string{"staff", "changes"},
		Remote: RemoteConfig{
			BaseURL:       "https://api.example.com/v2/",
			ClientID:      "client-1",
			Timeout:       15 * time.Second,
			RefreshMargin: 2 * time.Minute,
		},
		Credentials: CredentialsConfig{Type: "file", Path: "/home/user/.local/share/tb/credentials.toml"},
		Retry:       RetryConfig{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: time.Minute},
		Sync:        SyncConfig{ArchiveDir: "/archives", Workers: 3},
		Training: TrainingConfig{
			Model:           "gpt-4o-mini",
			TargetEpochs:    5,
			PricePerMillion: 3.0,
			Moderate:        true,
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: "/backup/vault"},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/home/user/.local/share/tb/keys/tb.pub",
			PrivateKeyPath: "/home/user/.local/share/tb/keys/tb.key",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/tb/db"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.DataDir != original.DataDir {
		t.Errorf("DataDir = %q, want %q", got.DataDir, original.DataDir)
	}
	if len(got.Accounts) != 2 || got.Accounts[1] != "changes" {
		t.Errorf("Accounts = %v, want [staff changes]", got.Accounts)
	}
	if got.Remote.ClientID != "client-1" {
		t.Errorf("Remote.ClientID = %q, want %q", got.Remote.ClientID, "client-1")
	}
	if got.Remote.Timeout != 15*time.Second {
		t.Errorf("Remote.Timeout = %v, want %v", got.Remote.Timeout, 15*time.Second)
	}
	if got.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("Retry.BaseDelay = %v, want %v", got.Retry.BaseDelay, 500*time.Millisecond)
	}
	if got.Sync.Workers != 3 {
		t.Errorf("Sync.Workers = %d, want 3", got.Sync.Workers)
	}
	if got.Training.TargetEpochs != 5 || !got.Training.Moderate {
		t.Errorf("Training = %+v, want TargetEpochs 5 and Moderate", got.Training)
	}
	if len(got.Vaults) != 1 {
		t.Fatalf("len(Vaults) = %d, want 1", len(got.Vaults))
	}
	if got.Vaults[0].FSVaultRoot != "/backup/vault" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", got.Vaults[0].FSVaultRoot, "/backup/vault")
	}
	if got.Encryption.PrivateKeyPath != original.Encryption.PrivateKeyPath {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", got.Encryption.PrivateKeyPath, original.Encryption.PrivateKeyPath)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/tb")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"HostID", cfg.HostID, "host-1"},
		{"LogDir", cfg.LogDir, "/data/tb/log"},
		{"DataDir", cfg.DataDir, "/data/tb/data"},
		{"Sync.ArchiveDir", cfg.Sync.ArchiveDir, "/data/tb/data/archives"},
		{"Credentials.Path", cfg.Credentials.Path, "/data/tb/credentials.toml"},
		{"Training.ExamplesPath", cfg.Training.ExamplesPath, "/data/tb/data/examples.jsonl"},
		{"Encryption.PublicKeyPath", cfg.Encryption.PublicKeyPath, "/data/tb/keys/tb.pub"},
		{"Remote.TokenURL", cfg.Remote.TokenURL, DefaultTokenURL},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	if cfg.Training.MinTargetExamples != 100 || cfg.Training.MaxTargetExamples != 25000 {
		t.Errorf("target examples = [%d, %d], want [100, 25000]", cfg.Training.MinTargetExamples, cfg.Training.MaxTargetExamples)
	}
	if cfg.Training.DraftCount != 1 {
		t.Errorf("DraftCount = %d, want 1", cfg.Training.DraftCount)
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		"TB_CLIENT_SECRET": "env-secret",
		"OPENAI_API_KEY":   "env-key",
	}
	getenv := func(k string) string { return env[k] }

	t.Run("fills missing secrets", func(t *testing.T) {
		cfg := NewConfig("h", "/tmp/tb")
		cfg.ApplyEnv(getenv)
		if cfg.Remote.ClientSecret != "env-secret" {
			t.Errorf("ClientSecret = %q, want %q", cfg.Remote.ClientSecret, "env-secret")
		}
		if cfg.OpenAI.APIKey != "env-key" {
			t.Errorf("APIKey = %q, want %q", cfg.OpenAI.APIKey, "env-key")
		}
	})

	t.Run("keeps values from the file", func(t *testing.T) {
		cfg := NewConfig("h", "/tmp/tb")
		cfg.Remote.ClientSecret = "file-secret"
		cfg.ApplyEnv(getenv)
		if cfg.Remote.ClientSecret != "file-secret" {
			t.Errorf("ClientSecret = %q, want %q", cfg.Remote.ClientSecret, "file-secret")
		}
	})
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tb.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tb.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestWriteToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tb.toml")
	cfg := NewConfig("h1", dir)
	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	cfg.Training.JobID = "ftjob-123"
	if err := WriteToFile(path, cfg); err != nil {
		t.Fatalf("WriteToFile() error = %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.Training.JobID != "ftjob-123" {
		t.Errorf("Training.JobID = %q, want %q", got.Training.JobID, "ftjob-123")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the config file", len(entries))
	}
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "tb.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Remote.RefreshMargin != DefaultRefreshMargin {
			t.Errorf("Remote.RefreshMargin = %v, want %v", got.Remote.RefreshMargin, DefaultRefreshMargin)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/tb.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
