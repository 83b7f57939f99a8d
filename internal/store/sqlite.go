package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS records (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at DATETIME NOT NULL
)`

const createGroupsTable = `
CREATE TABLE IF NOT EXISTS group_records (
    grp        TEXT NOT NULL,
    field      TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (grp, field)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}

	if _, err := db.Exec(createGroupsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create group_records table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Set upserts a record.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

// Get retrieves a record by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM records WHERE key = ?", key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return value, nil
}

// HSet upserts one field of a group.
func (s *SQLiteStore) HSet(ctx context.Context, group, field string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_records (grp, field, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(grp, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		group, field, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set group field: %w", err)
	}
	return nil
}

// HGet retrieves one field of a group.
func (s *SQLiteStore) HGet(ctx context.Context, group, field string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM group_records WHERE grp = ? AND field = ?", group, field,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group field: %w", err)
	}
	return value, nil
}

// HGetAll retrieves every field of a group.
func (s *SQLiteStore) HGetAll(ctx context.Context, group string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT field, value FROM group_records WHERE grp = ?", group,
	)
	if err != nil {
		return nil, fmt.Errorf("list group: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var field string
		var value []byte
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("scan group field: %w", err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group: %w", err)
	}
	return out, nil
}
