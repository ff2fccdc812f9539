package journal

import (
	"os"
	"path/filepath"
	"testing"

	"fop-go/internal/config"
)

func TestNewJournalFromConfig(t *testing.T) {
	t.Run("memory journal", func(t *testing.T) {
		got, err := NewJournalFromConfig(config.JournalConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewJournalFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite journal", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewJournalFromConfig(config.JournalConfig{Type: "sqlite", DataDir: dir})
		if err != nil {
			t.Fatalf("NewJournalFromConfig() unexpected error: %v", err)
		}
		defer got.Close()
		if _, err := os.Stat(filepath.Join(dir, "journal.db")); err != nil {
			t.Errorf("journal file not created: %v", err)
		}
	})

	t.Run("sqlite journal without data_dir", func(t *testing.T) {
		if _, err := NewJournalFromConfig(config.JournalConfig{Type: "sqlite"}); err == nil {
			t.Error("NewJournalFromConfig() expected error")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewJournalFromConfig(config.JournalConfig{Type: "postgres"}); err == nil {
			t.Error("NewJournalFromConfig() expected error")
		}
	})
}
