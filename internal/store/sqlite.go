package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps keys and logs in a single SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite permits a single writer.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// initialize creates the database schema
func (b *SQLiteBackend) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		entry TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_log_key ON log(key, id);
	`

	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return []byte(value), nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte) error {
	query := `INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`
	if _, err := b.db.ExecContext(ctx, query, key, string(value), time.Now()); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Append(ctx context.Context, key string, entry []byte) error {
	query := `INSERT INTO log (key, entry, created_at) VALUES (?, ?, ?)`
	if _, err := b.db.ExecContext(ctx, query, key, string(entry), time.Now()); err != nil {
		return fmt.Errorf("appending to %s: %w", key, err)
	}
	return nil
}

// ReadLog returns the entries of key in append order.
func (b *SQLiteBackend) ReadLog(ctx context.Context, key string) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT entry FROM log WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("reading log %s: %w", key, err)
	}
	defer rows.Close()

	var entries [][]byte
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, err
		}
		entries = append(entries, []byte(entry))
	}
	return entries, rows.Err()
}

func (b *SQLiteBackend) ClearLog(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM log WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clearing log %s: %w", key, err)
	}
	return nil
}
