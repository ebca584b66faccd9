package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `CREATE TABLE IF NOT EXISTS conversations (
	key        TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps associations in a sqlite database. Each write is a single
// upsert statement, so a key is never observed half-updated.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection: ":memory:" databases are per-connection, and sqlite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create conversations table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get conversation %q: %w", key, err)
	}
	return id, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key, id string) error {
	if id == "" {
		return s.Reset(ctx, key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (key, id, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET id = excluded.id, updated_at = excluded.updated_at`,
		key, id)
	if err != nil {
		return fmt.Errorf("set conversation %q: %w", key, err)
	}
	return nil
}

// Reset implements Store.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE key = ?`, key); err != nil {
		return fmt.Errorf("reset conversation %q: %w", key, err)
	}
	return nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
