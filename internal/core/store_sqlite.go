package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements Store using SQLite.
// Values are stored as JSON, one row per device address.
type SQLiteStore[T any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore[T any](dbPath string) (*SQLiteStore[T], error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	store, err := NewSQLiteStoreFromDB[T](db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLiteStoreFromDB wraps an already opened database
func NewSQLiteStoreFromDB[T any](db *sql.DB) (*SQLiteStore[T], error) {
	store := &SQLiteStore[T]{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

// initSchema creates the necessary tables if they don't exist
func (s *SQLiteStore[T]) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS device_snapshots (
			address TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}

// Load returns the stored value for address
func (s *SQLiteStore[T]) Load(ctx context.Context, address string) (T, bool, error) {
	var value T
	var body string

	query := `SELECT body FROM device_snapshots WHERE address = ?`
	err := s.db.QueryRowContext(ctx, query, address).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("querying snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(body), &value); err != nil {
		return value, false, fmt.Errorf("decoding snapshot: %w", err)
	}

	return value, true, nil
}

// Save replaces the stored value for address
func (s *SQLiteStore[T]) Save(ctx context.Context, address string, value T) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	query := `
		INSERT INTO device_snapshots (address, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, address, string(body), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore[T]) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
