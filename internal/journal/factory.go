package journal

import (
	"fmt"
	"os"
	"path/filepath"

	"fop-go/internal/config"
)

// NewJournalFromConfig opens the journal selected by cfg.Type.
func NewJournalFromConfig(cfg config.JournalConfig) (*SQLiteJournal, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite journal")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		return NewSQLiteJournal(filepath.Join(cfg.DataDir, "journal.db"))
	case "memory":
		return NewSQLiteJournal(":memory:")
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}
}
