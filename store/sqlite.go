package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite is a persistent store backed by a single SQLite database file.
// It trades the disk store's one-file-per-entry layout for a single
// artifact that is easy to ship around.
type SQLite struct {
	db *sql.DB
	// SQLite allows one writer at a time; serializing writes here
	// avoids busy errors under concurrent puts.
	writeMutex sync.Mutex
}

// NewSQLite opens (or creates) the database at path and prepares the
// cache table.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, value BLOB)"); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	return &SQLite{db: db}, nil
}

// Get returns the value stored for key, if any.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

// Put stores or overwrites the value for key.
func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, value) VALUES (?, ?)", key, value); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Delete removes the entry for key if present.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Clear removes all entries.
func (s *SQLite) Clear(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache"); err != nil {
		return &Error{Op: "clear", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
