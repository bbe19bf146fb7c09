package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("TB_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("TB_HOME", "/custom/tb")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if d.ConfigPath != "/custom/config.toml" {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, "/custom/config.toml")
		}
		if d.BaseDir != "/custom/tb" {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, "/custom/tb")
		}
		if d.LogDir() != "/custom/tb/log" {
			t.Errorf("LogDir() = %q, want %q", d.LogDir(), "/custom/tb/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("TB_CONFIG_PATH", "")
		t.Setenv("TB_HOME", "")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		if want := filepath.Join(homeDir, ".config", "tb.toml"); d.ConfigPath != want {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, want)
		}
		if want := filepath.Join(homeDir, ".local", "share", "tb"); d.BaseDir != want {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, want)
		}
	})

	t.Run("mixes env and home defaults", func(t *testing.T) {
		t.Setenv("TB_CONFIG_PATH", "")
		t.Setenv("TB_HOME", "/srv/tb")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		homeDir, _ := os.UserHomeDir()
		if want := filepath.Join(homeDir, ".config", "tb.toml"); d.ConfigPath != want {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, want)
		}
		if d.BaseDir != "/srv/tb" {
			t.Errorf("BaseDir = %q, want /srv/tb", d.BaseDir)
		}
	})
}
