package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by modernc.org/sqlite, the same driver
// internal/core/db.go uses. It keeps that file's WAL-mode, busy-timeout
// connection string and single-schema-on-open idiom, but the schema itself
// is the generic KV/set/hash/counter shape spec §4.2 asks of any backend —
// Mudpie never hand-rolls a bespoke relational schema per object kind.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed Store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS set_members (
		set_key TEXT NOT NULL,
		member  TEXT NOT NULL,
		PRIMARY KEY (set_key, member)
	);
	CREATE INDEX IF NOT EXISTS idx_set_members_key ON set_members(set_key);

	CREATE TABLE IF NOT EXISTS hash_fields (
		hash_key TEXT NOT NULL,
		field    TEXT NOT NULL,
		value    TEXT NOT NULL,
		PRIMARY KEY (hash_key, field)
	);

	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Replace implements Store.
func (s *SQLiteStore) Replace(ctx context.Context, key string, value []byte) error {
	return s.Set(ctx, key, value)
}

// Remove implements Store.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

// SetAdd implements Store.
func (s *SQLiteStore) SetAdd(ctx context.Context, setKey, member string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO set_members (set_key, member) VALUES (?, ?)
		ON CONFLICT(set_key, member) DO NOTHING
	`, setKey, member)
	return err
}

// SetRemove implements Store.
func (s *SQLiteStore) SetRemove(ctx context.Context, setKey, member string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM set_members WHERE set_key = ? AND member = ?", setKey, member)
	return err
}

// SetContains implements Store.
func (s *SQLiteStore) SetContains(ctx context.Context, setKey, member string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM set_members WHERE set_key = ? AND member = ?
	`, setKey, member).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetMembers implements Store.
func (s *SQLiteStore) SetMembers(ctx context.Context, setKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT member FROM set_members WHERE set_key = ?", setKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// HashGet implements Store.
func (s *SQLiteStore) HashGet(ctx context.Context, hashKey, field string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM hash_fields WHERE hash_key = ? AND field = ?
	`, hashKey, field).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// HashSet implements Store.
func (s *SQLiteStore) HashSet(ctx context.Context, hashKey, field, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hash_fields (hash_key, field, value) VALUES (?, ?, ?)
		ON CONFLICT(hash_key, field) DO UPDATE SET value = excluded.value
	`, hashKey, field, value)
	return err
}

// Incr implements Store with an atomic upsert-and-return.
func (s *SQLiteStore) Incr(ctx context.Context, counterKey string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, counterKey).Scan(&value)
	return value, err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
