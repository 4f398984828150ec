package database

import (
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// OptimizeDatabase verifies the SQLite settings requested in the DSN and
// creates the indexes the state queries rely on.
func OptimizeDatabase(db *gorm.DB, logger *pterm.Logger) error {
	logger.Debug("Applying database optimizations...")

	// Verify WAL mode is enabled (debug level - only show if there's a problem)
	var journalMode string
	if err := db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error; err != nil {
		logger.Warn("Failed to check journal mode", logger.Args("error", err))
	} else if journalMode != "wal" && journalMode != "memory" {
		logger.Warn("Database not in WAL mode", logger.Args("mode", journalMode))
	} else {
		logger.Trace("Database journal mode verified", logger.Args("mode", journalMode))
	}

	indexes := []string{
		// Key prefix scans (node listings)
		`CREATE INDEX IF NOT EXISTS idx_state_documents_key_updated
		 ON state_documents(key, updated_at DESC)`,
	}

	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	if err := db.Exec("ANALYZE state_documents").Error; err != nil {
		logger.Debug("Failed to analyze state table", logger.Args("error", err))
	}

	logger.Trace("Database optimizations applied", logger.Args("indexes", len(indexes)))
	return nil
}
