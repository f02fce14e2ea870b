// Package sqlite provides the SQLite-backed durable store for cached
// responses, queued mutations and the device session.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var errNotOpen = errors.New("database not open")

// pragmas are applied to every connection. WAL keeps committed writes
// durable across a crash mid-drain; in-memory databases ignore it.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Connection owns the database handle for one SQLite file.
type Connection struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// DefaultPath returns ~/.schoolsync/schoolsync.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".schoolsync", "schoolsync.db"), nil
}

// NewConnection returns an unopened connection to path, or to DefaultPath
// when path is empty. ":memory:" opens a private in-memory database.
func NewConnection(path string) (*Connection, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Connection{path: path}, nil
}

// Path returns the database file path.
func (c *Connection) Path() string {
	return c.path
}

// Open creates the parent directory, opens the database and brings the
// schema up to date.
func (c *Connection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return errors.New("database already open")
	}

	if c.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
			return fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, c.path)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	// One connection serializes writers and keeps a :memory: database from
	// splitting across the pool.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return fmt.Errorf("could not migrate database: %w", err)
	}

	c.db = db
	return nil
}

// Close closes the database. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("could not close database: %w", err)
	}
	return nil
}

// DB returns the open handle.
func (c *Connection) DB() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return nil, errNotOpen
	}
	return c.db, nil
}
