package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	reflink := false
	original := &Config{
		BaseDir: "/home/user/.local/share/fop",
		LogDir:  "/home/user/.local/share/fop/log",
		Engine: EngineConfig{
			BufferSize:       65536,
			Workers:          8,
			RetryWait:        Duration{250 * time.Millisecond},
			ProgressInterval: Duration{time.Second},
			Reflink:          &reflink,
			DefaultPolicy:    "skip",
		},
		Enumerator: EnumeratorConfig{
			NetworkTimeout:  Duration{5 * time.Second},
			NetworkPatterns: []string{"^/mnt/nfs/"},
		},
		Journal: JournalConfig{Type: "sqlite", DataDir: "/home/user/.local/share/fop/db"},
		Trash:   TrashConfig{Dir: "/home/user/.local/share/Trash"},
		Vault:   VaultConfig{Root: "/backup/vault"},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/home/user/.local/share/fop/keys/fop.pub",
			PrivateKeyPath: "/home/user/.local/share/fop/keys/fop.key",
		},
		S3: []S3Config{
			{Name: "media", Bucket: "media-bucket", Region: "eu-west-1", Endpoint: "http://localhost:9000", UsePathStyle: true},
		},
		Metrics: MetricsConfig{Listen: ":9102"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `retry_wait = "250ms"`) {
		t.Errorf("durations should be written as strings:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Engine.Workers != 8 || got.Engine.BufferSize != 65536 {
		t.Errorf("Engine = %+v", got.Engine)
	}
	if got.Engine.RetryWait.Duration != 250*time.Millisecond {
		t.Errorf("Engine.RetryWait = %v, want 250ms", got.Engine.RetryWait)
	}
	if got.Engine.Reflink == nil || *got.Engine.Reflink {
		t.Errorf("Engine.Reflink = %v, want false", got.Engine.Reflink)
	}
	if got.Engine.DefaultPolicy != "skip" {
		t.Errorf("Engine.DefaultPolicy = %q, want %q", got.Engine.DefaultPolicy, "skip")
	}
	if got.Enumerator.NetworkTimeout.Duration != 5*time.Second {
		t.Errorf("Enumerator.NetworkTimeout = %v, want 5s", got.Enumerator.NetworkTimeout)
	}
	if len(got.Enumerator.NetworkPatterns) != 1 {
		t.Fatalf("len(NetworkPatterns) = %d, want 1", len(got.Enumerator.NetworkPatterns))
	}
	if got.Journal.Type != "sqlite" {
		t.Errorf("Journal.Type = %q, want %q", got.Journal.Type, "sqlite")
	}
	if got.Vault.Root != "/backup/vault" {
		t.Errorf("Vault.Root = %q, want %q", got.Vault.Root, "/backup/vault")
	}
	if got.Encryption.PrivateKeyPath != original.Encryption.PrivateKeyPath {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", got.Encryption.PrivateKeyPath, original.Encryption.PrivateKeyPath)
	}
	if len(got.S3) != 1 {
		t.Fatalf("len(S3) = %d, want 1", len(got.S3))
	}
	if got.S3[0].Bucket != "media-bucket" || !got.S3[0].UsePathStyle {
		t.Errorf("S3[0] = %+v", got.S3[0])
	}
	if got.Metrics.Listen != ":9102" {
		t.Errorf("Metrics.Listen = %q, want %q", got.Metrics.Listen, ":9102")
	}
}

func TestManager_Read_Durations(t *testing.T) {
	m := &Manager{}

	t.Run("parses duration strings", func(t *testing.T) {
		cfg, err := m.Read(strings.NewReader("[engine]\nretry_wait = \"1m30s\"\n"))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if cfg.Engine.RetryWait.Duration != 90*time.Second {
			t.Errorf("RetryWait = %v, want 1m30s", cfg.Engine.RetryWait)
		}
		if cfg.Engine.Reflink != nil {
			t.Errorf("Reflink = %v, want unset", *cfg.Engine.Reflink)
		}
	})

	t.Run("rejects invalid durations", func(t *testing.T) {
		if _, err := m.Read(strings.NewReader("[engine]\nretry_wait = \"soon\"\n")); err == nil {
			t.Fatal("Read() expected error")
		}
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/fop")

	if cfg.BaseDir != "/data/fop" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/fop")
	}
	if cfg.LogDir != "/data/fop/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/fop/log")
	}
	if cfg.Journal.DataDir != "/data/fop/db" {
		t.Errorf("Journal.DataDir = %q, want %q", cfg.Journal.DataDir, "/data/fop/db")
	}
	if cfg.Vault.Root != "/data/fop/vault" {
		t.Errorf("Vault.Root = %q, want %q", cfg.Vault.Root, "/data/fop/vault")
	}
	if cfg.Encryption.PublicKeyPath != "/data/fop/keys/fop.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/fop/keys/fop.pub")
	}
	if cfg.Encryption.PrivateKeyPath != "/data/fop/keys/fop.key" {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", cfg.Encryption.PrivateKeyPath, "/data/fop/keys/fop.key")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fop.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fop.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fop.toml")
		cfg := NewConfig(dir)
		cfg.Journal = JournalConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Journal.Type != "memory" {
			t.Errorf("Journal.Type = %q, want %q", got.Journal.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/fop.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error")
		}
	})
}
