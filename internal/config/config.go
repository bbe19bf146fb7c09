package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Remote API defaults.
const (
	DefaultBaseURL       = "https://api.tumblr.com/v2/"
	DefaultAuthorizeURL  = "https://www.tumblr.com/oauth2/authorize"
	DefaultTokenURL      = "https://api.tumblr.com/v2/oauth2/token"
	DefaultRedirectURL   = "http://localhost:8080/callback"
	DefaultUserAgent     = "tb/1.0"
	DefaultTimeout       = 30 * time.Second
	DefaultRefreshMargin = time.Minute
)

// Training defaults.
const (
	DefaultModel             = "gpt-4.1-nano-2025-04-14"
	DefaultDeveloperMessage  = "You are a Tumblr post bot. Please generate a Tumblr post in accordance with the user's request."
	DefaultUserMessage       = "Please write a comical Tumblr post."
	DefaultTargetEpochs      = 3
	DefaultMinTargetExamples = 100
	DefaultMaxTargetExamples = 25000
	DefaultPricePerMillion   = 1.50
)

// Config represents the main configuration for tb.
type Config struct {
	HostID  string `toml:"host_id"`
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`
	DataDir string `toml:"data_dir"`

	// Accounts are the blogs synced when `tb sync` is run without arguments.
	Accounts []string `toml:"accounts"`

	Remote      RemoteConfig      `toml:"remote"`
	Credentials CredentialsConfig `toml:"credentials"`
	Retry       RetryConfig       `toml:"retry"`
	Sync        SyncConfig        `toml:"sync"`
	Training    TrainingConfig    `toml:"training"`
	OpenAI      OpenAIConfig      `toml:"openai"`
	Vaults      []VaultConfig     `toml:"vaults"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Database    DatabaseConfig    `toml:"database"`
}

// RemoteConfig describes the post API and its authorization endpoints.
type RemoteConfig struct {
	BaseURL      string `toml:"base_url"`
	AuthorizeURL string `toml:"authorize_url"`
	TokenURL     string `toml:"token_url"`
	RedirectURL  string `toml:"redirect_url"`
	ClientID     string `toml:"client_id"`
	// ClientSecret may be left empty and supplied through TB_CLIENT_SECRET.
	ClientSecret  string        `toml:"client_secret,omitempty"`
	UserAgent     string        `toml:"user_agent"`
	Timeout       time.Duration `toml:"timeout"`
	RefreshMargin time.Duration `toml:"refresh_margin"`
}

// CredentialsConfig represents configuration for the credential store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CredentialsConfig struct {
	Type string `toml:"type"`           // "file" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=file
}

// RetryConfig bounds the rate-limit retry policy.
type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	BaseDelay   time.Duration `toml:"base_delay"`
	MaxDelay    time.Duration `toml:"max_delay"`
}

// SyncConfig holds archive settings.
type SyncConfig struct {
	ArchiveDir string `toml:"archive_dir"`
	Workers    int    `toml:"workers"` // accounts synced in parallel; must be positive
}

// TrainingConfig holds corpus and fine-tuning settings.
type TrainingConfig struct {
	Model            string `toml:"model"`
	DeveloperMessage string `toml:"developer_message"`
	UserMessage      string `toml:"user_message"`
	ExamplesPath     string `toml:"examples_path"`

	// CustomPromptsPath is a JSONL file of {"user prompt": "reply"} objects
	// added to the corpus ahead of the archived posts. Optional.
	CustomPromptsPath string `toml:"custom_prompts_path,omitempty"`
	// PostLimit keeps only the newest PostLimit original posts per account
	// when positive.
	PostLimit int `toml:"post_limit,omitempty"`

	// TargetEpochs overrides the epoch estimate when positive.
	TargetEpochs      int     `toml:"target_epochs,omitempty"`
	MinTargetExamples int     `toml:"min_target_examples"`
	MaxTargetExamples int     `toml:"max_target_examples"`
	PricePerMillion   float64 `toml:"price_per_million"`

	// Moderate drops posts flagged by the moderation endpoint.
	Moderate bool `toml:"moderate"`

	// FineTunedModel, DraftAccount and DraftCount are used by `tb draft`.
	FineTunedModel string `toml:"fine_tuned_model,omitempty"`
	DraftAccount   string `toml:"draft_account,omitempty"`
	DraftCount     int    `toml:"draft_count"`
	// JobID is the last fine-tuning job started by `tb train`.
	JobID string `toml:"job_id,omitempty"`
}

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	// APIKey may be left empty and supplied through OPENAI_API_KEY.
	APIKey       string        `toml:"api_key,omitempty"`
	BaseURL      string        `toml:"base_url,omitempty"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config with the provided values and defaults for
// every other setting.
func NewConfig(hostID, baseDir string) *Config {
	dataDir := filepath.Join(baseDir, "data")
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		DataDir: dataDir,
		Remote: RemoteConfig{
			BaseURL:       DefaultBaseURL,
			AuthorizeURL:  DefaultAuthorizeURL,
			TokenURL:      DefaultTokenURL,
			RedirectURL:   DefaultRedirectURL,
			UserAgent:     DefaultUserAgent,
			Timeout:       DefaultTimeout,
			RefreshMargin: DefaultRefreshMargin,
		},
		Credentials: CredentialsConfig{
			Type: "file",
			Path: filepath.Join(baseDir, "credentials.toml"),
		},
		Retry: RetryConfig{
			MaxAttempts: 10,
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Minute,
		},
		Sync: SyncConfig{
			ArchiveDir: filepath.Join(dataDir, "archives"),
			Workers:    2,
		},
		Training: TrainingConfig{
			Model:             DefaultModel,
			DeveloperMessage:  DefaultDeveloperMessage,
			UserMessage:       DefaultUserMessage,
			ExamplesPath:      filepath.Join(dataDir, "examples.jsonl"),
			MinTargetExamples: DefaultMinTargetExamples,
			MaxTargetExamples: DefaultMaxTargetExamples,
			PricePerMillion:   DefaultPricePerMillion,
			DraftCount:        1,
		},
		OpenAI: OpenAIConfig{
			PollInterval: 30 * time.Second,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "tb.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "tb.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// ApplyEnv fills secrets that were left out of the config file from the
// environment. Values already present in the file win.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.Remote.ClientSecret == "" {
		c.Remote.ClientSecret = getenv("TB_CLIENT_SECRET")
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = getenv("OPENAI_API_KEY")
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile replaces the config file at path. The file is written to a
// temporary sibling and renamed into place.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
