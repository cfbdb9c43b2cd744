// Package storage provides SQLite persistence for the relay's offline queue
// and for ledger checkpoints.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a queued frame does not exist
var ErrNotFound = errors.New("not found")

// openDB opens a SQLite database in WAL mode
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection, no SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)

	return db, nil
}

// initSchema runs a schema script
func initSchema(db *sql.DB, schema string) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
