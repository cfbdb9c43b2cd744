package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ZentaChain/protoz-node/pkg/ledger"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// LedgerStore checkpoints a delivery ledger so counts survive restarts
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore opens (or creates) a ledger checkpoint database
func NewLedgerStore(dbPath string) (*LedgerStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		location INTEGER NOT NULL,
		field1 TEXT NOT NULL,
		field2 TEXT NOT NULL,
		field3 TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (location, field1, field2, field3)
	);

	CREATE TABLE IF NOT EXISTS ledger_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total INTEGER NOT NULL,
		saved_at INTEGER NOT NULL
	);
	`
	if err := initSchema(db, schema); err != nil {
		db.Close()
		return nil, err
	}

	return &LedgerStore{db: db}, nil
}

// Save replaces the stored checkpoint with snap in one transaction.
// Sub-address fields are stored as decimal text since SQLite integers are
// signed 64-bit.
func (s *LedgerStore) Save(snap ledger.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ledger_entries`); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO ledger_entries (location, field1, field2, field3, count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.Entries {
		a := e.Address
		if _, err := stmt.Exec(int(a.Location), u64(a.Field1), u64(a.Field2), u64(a.Field3), int64(e.Count)); err != nil {
			return fmt.Errorf("failed to save entry %s: %w", a, err)
		}
	}

	query := `
		INSERT INTO ledger_meta (id, total, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total = excluded.total, saved_at = excluded.saved_at
	`
	if _, err := tx.Exec(query, int64(snap.Total), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save total: %w", err)
	}

	return tx.Commit()
}

// Load returns the stored checkpoint. An empty store yields an empty
// snapshot.
func (s *LedgerStore) Load() (ledger.Snapshot, error) {
	var snap ledger.Snapshot

	var total int64
	err := s.db.QueryRow(`SELECT total FROM ledger_meta WHERE id = 1`).Scan(&total)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("failed to load total: %w", err)
	}
	snap.Total = uint64(total)

	rows, err := s.db.Query(`SELECT location, field1, field2, field3, count FROM ledger_entries ORDER BY location, field1, field2, field3`)
	if err != nil {
		return snap, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var loc int
		var f1, f2, f3 string
		var count int64
		if err := rows.Scan(&loc, &f1, &f2, &f3, &count); err != nil {
			return snap, fmt.Errorf("failed to scan entry: %w", err)
		}

		addr, err := protocol.ParseAddress(fmt.Sprintf("%s/%s/%s/%s", protocol.Location(loc), f1, f2, f3))
		if err != nil {
			return snap, fmt.Errorf("corrupt ledger entry: %w", err)
		}
		snap.Entries = append(snap.Entries, ledger.Entry{Address: addr, Count: uint64(count)})
	}

	return snap, rows.Err()
}

// Close closes the database connection
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

func u64(v uint64) string {
	return fmt.Sprintf("%d", v)
}
