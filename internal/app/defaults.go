package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the locations tb uses before a config file exists.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// LogDir is where tb.log is written when no config says otherwise.
func (d Defaults) LogDir() string {
	return filepath.Join(d.BaseDir, "log")
}

// GetDefaults resolves the default locations. Environment variables win:
//   - TB_CONFIG_PATH: config file (default ~/.config/tb.toml)
//   - TB_HOME: base directory for archives, keys and history (default ~/.local/share/tb)
func GetDefaults() (Defaults, error) {
	d := Defaults{
		ConfigPath: os.Getenv("TB_CONFIG_PATH"),
		BaseDir:    os.Getenv("TB_HOME"),
	}
	if d.ConfigPath != "" && d.BaseDir != "" {
		return d, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
	}
	if d.ConfigPath == "" {
		d.ConfigPath = filepath.Join(homeDir, ".config", "tb.toml")
	}
	if d.BaseDir == "" {
		d.BaseDir = filepath.Join(homeDir, ".local", "share", "tb")
	}
	return d, nil
}
