package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var errWrongType = errors.New("cached value has unexpected type")

// Store is the optional persistent cache tier, backed by SQLite. Only
// long-TTL entries (immutable historical conversations) are worth writing
// here; live timelines churn too fast to bother persisting.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the persistent cache at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure cache db: %w", err)
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS cache_entries (
	  key TEXT PRIMARY KEY,
	  body BLOB NOT NULL,
	  expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored body for key if present and not expired at now.
func (s *Store) Get(ctx context.Context, key string, now time.Time) ([]byte, bool) {
	var body []byte
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT body, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&body, &expires)
	if err != nil || now.Unix() >= expires {
		return nil, false
	}
	return body, true
}

// Put stores body under key until expires.
func (s *Store) Put(ctx context.Context, key string, body []byte, expires time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, body, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, expires_at = excluded.expires_at`,
		key, body, expires.Unix())
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Prune deletes entries expired as of now.
func (s *Store) Prune(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at < ?`, now.Unix()); err != nil {
		return fmt.Errorf("prune cache entries: %w", err)
	}
	return nil
}
