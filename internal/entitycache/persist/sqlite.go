package persist

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS entity_cache (
	key       TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	outcome   TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore persists the cache document in a single SQLite table. Useful
// when the cache file lives on a shared volume where partially written JSON
// would be a problem, or when operators want to inspect entries with SQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and ensures the
// schema exists.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads every row into a Document.
func (s *SQLiteStore) Load() (Document, error) {
	rows, err := s.db.Query("SELECT key, name, timestamp, outcome FROM entity_cache")
	if err != nil {
		return nil, fmt.Errorf("persist: failed to query entity_cache: %w", err)
	}
	defer rows.Close()

	doc := Document{}
	for rows.Next() {
		var key, name, ts, outcome string
		if err := rows.Scan(&key, &name, &ts, &outcome); err != nil {
			return nil, fmt.Errorf("persist: failed to scan row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("persist: invalid timestamp %q for key %q: %w", ts, key, err)
		}
		doc[key] = Record{Name: name, Timestamp: parsed, Outcome: outcome}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: row iteration failed: %w", err)
	}
	return doc, nil
}

// Save replaces the table contents with doc in one transaction.
func (s *SQLiteStore) Save(doc Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persist: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entity_cache"); err != nil {
		return fmt.Errorf("persist: failed to clear entity_cache: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO entity_cache (key, name, timestamp, outcome) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("persist: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for key, rec := range doc {
		if _, err := stmt.Exec(key, rec.Name, rec.Timestamp.Format(time.RFC3339Nano), rec.Outcome); err != nil {
			return fmt.Errorf("persist: failed to insert key %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: failed to commit: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
