package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for fop.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Engine     EngineConfig     `toml:"engine"`
	Enumerator EnumeratorConfig `toml:"enumerator"`
	Journal    JournalConfig    `toml:"journal"`
	Trash      TrashConfig      `toml:"trash"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	S3         []S3Config       `toml:"s3"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// EngineConfig tunes the copy engine. Zero values fall back to the engine
// defaults.
type EngineConfig struct {
	BufferSize         int      `toml:"buffer_size,omitempty"`
	BigFileThreshold   int64    `toml:"big_file_threshold,omitempty"`
	MmapWindow         int64    `toml:"mmap_window,omitempty"`
	SmallFileThreshold int64    `toml:"small_file_threshold,omitempty"`
	Workers            int      `toml:"workers,omitempty"`
	RetryCount         int      `toml:"retry_count,omitempty"`
	RetryWait          Duration `toml:"retry_wait,omitempty"`
	SyncEvery          int64    `toml:"sync_every,omitempty"`
	ProgressInterval   Duration `toml:"progress_interval,omitempty"`
	// Reflink is a pointer so an absent key keeps the default of true.
	Reflink       *bool  `toml:"reflink,omitempty"`
	DefaultPolicy string `toml:"default_policy,omitempty"` // "fail-fast", "skip", "overwrite" or "rename"
}

// EnumeratorConfig bounds directory listing on network mounts.
type EnumeratorConfig struct {
	NetworkTimeout  Duration `toml:"network_timeout,omitempty"`
	NetworkPatterns []string `toml:"network_patterns,omitempty"`
}

// JournalConfig represents configuration for the job journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type JournalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// TrashConfig locates the home trash.
type TrashConfig struct {
	Dir string `toml:"dir,omitempty"` // defaults to $XDG_DATA_HOME/Trash
}

// VaultConfig locates the encrypted vault served under vault://.
// An empty Root disables the scheme.
type VaultConfig struct {
	Root string `toml:"root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used by the vault.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// S3Config registers one bucket under s3://<name>/.
type S3Config struct {
	Name            string `toml:"name"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `toml:"use_path_style,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// NewConfig creates a new Config with the provided base directory and
// default paths below it.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Journal: JournalConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Vault:   VaultConfig{Root: filepath.Join(baseDir, "vault")},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "fop.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "fop.key"),
		},
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Access keys may end up in here.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
