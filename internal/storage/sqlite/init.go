package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the submissions table
// if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT,
		links TEXT NOT NULL,
		link_count INTEGER NOT NULL,
		autostart BOOLEAN NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		error TEXT,
		submitted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_submitted_at ON submissions (submitted_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create submissions table: %w", err)
	}

	return db, nil
}
