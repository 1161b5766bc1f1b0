package kvstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists named blobs in SQL backends (SQLite or Postgres).
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore creates a SQLite-backed blob store.
// dsn can be a file path (e.g. /tmp/modelkit.db) or SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "modelkit.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore creates a Postgres-backed blob store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS modelkit_blobs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

	if s.dialect == dialectPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS modelkit_blobs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize blob schema: %w", err)
	}
	return nil
}

// Load returns the blob stored under key.
func (s *SQLStore) Load(key string) ([]byte, bool, error) {
	query := `SELECT value FROM modelkit_blobs WHERE key = ?`
	if s.dialect == dialectPostgres {
		query = `SELECT value FROM modelkit_blobs WHERE key = $1`
	}
	var raw string
	if err := s.db.QueryRow(query, key).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load blob %q: %w", key, err)
	}
	return []byte(raw), true, nil
}

// Save stores value under key, replacing any previous blob.
func (s *SQLStore) Save(key string, value []byte) error {
	upsert := `
INSERT INTO modelkit_blobs(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if s.dialect == dialectPostgres {
		upsert = `
INSERT INTO modelkit_blobs(key, value, updated_at)
VALUES($1, $2, $3)
ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	}

	if _, err := s.db.Exec(upsert, key, string(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("save blob %q: %w", key, err)
	}
	return nil
}

// Delete removes the blob stored under key.
func (s *SQLStore) Delete(key string) error {
	query := `DELETE FROM modelkit_blobs WHERE key = ?`
	if s.dialect == dialectPostgres {
		query = `DELETE FROM modelkit_blobs WHERE key = $1`
	}
	if _, err := s.db.Exec(query, key); err != nil {
		return fmt.Errorf("delete blob %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
