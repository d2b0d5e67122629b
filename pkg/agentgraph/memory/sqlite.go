package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists memory records to SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates the database at path (":memory:" for tests).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_items (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, ns Namespace, key string, value map[string]any) error {
	if err := validateWrite(ns, key); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal memory value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_items (namespace, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, ns.encode(), key, string(data), now, now)
	if err != nil {
		return fmt.Errorf("put memory record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, ns Namespace, key string) (*Item, error) {
	if err := validateWrite(ns, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, key, value, created_at, updated_at
		FROM memory_items
		WHERE namespace = ? AND key = ?
	`, ns.encode(), key)

	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory record: %w", err)
	}
	return it, nil
}

// Search implements Store.
func (s *SQLiteStore) Search(ctx context.Context, prefix Namespace, opts ...SearchOption) ([]Item, error) {
	if err := prefix.validatePrefix(); err != nil {
		return nil, err
	}
	cfg := newSearchConfig(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	enc := prefix.encode()
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, key, value, created_at, updated_at
		FROM memory_items
		WHERE substr(namespace, 1, length(?)) = ?
	`, enc, enc)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory records: %w", err)
	}
	return cfg.apply(items), nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := validateWrite(ns, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_items WHERE namespace = ? AND key = ?`, ns.encode(), key); err != nil {
		return fmt.Errorf("delete memory record: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		ns, key, value   string
		created, updated string
	)
	if err := row.Scan(&ns, &key, &value, &created, &updated); err != nil {
		return nil, err
	}

	it := &Item{Namespace: decodeNamespace(ns), Key: key}
	if err := json.Unmarshal([]byte(value), &it.Value); err != nil {
		return nil, fmt.Errorf("unmarshal value %s/%s: %w", strings.ReplaceAll(ns, separator, "/"), key, err)
	}
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return it, nil
}
