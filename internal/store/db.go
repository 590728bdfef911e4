package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned when no daily record exists for a date
var ErrRecordNotFound = errors.New("daily record not found")

// DB wraps the sqlite connection and implements the health store and
// daily record contracts.
type DB struct {
	*sqlx.DB
}

// Open opens the SQLite database at path, creating it if necessary.
// An empty path uses ~/.readiness/data.db.
func Open(path string) (*DB, error) {
	if path == "" {
		p, err := defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("getting db path: %w", err)
		}
		path = p
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{db}, nil
}

func defaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".readiness", "data.db"), nil
}
