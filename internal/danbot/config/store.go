// Package config provides a lightweight key/value configuration store backed
// by a SQLite table. It holds the operator-tunable knobs that can be changed
// from chat without a restart: the model override and the context-window
// limits. Credentials stay in the environment; this table is plain config
// only.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ldinca/danbot/internal/danbot/store"
)

// Well-known keys.
const (
	KeyModel         = "model"          // overrides the persona's text model
	KeyHistoryWindow = "history_window" // turns projected into the prompt
	KeyNotesLimit    = "notes_limit"    // recent notes projected into the prompt
	KeyFactsLimit    = "facts_limit"    // fact keys projected into the prompt
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("config: key not found")

// Store is the read/write interface for the runtime configuration table.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value associated with key. Returns ErrNotFound when
	// the key has not been set.
	Get(ctx context.Context, key string) (string, error)

	// GetInt parses the value for key as an integer. Missing or
	// unparseable values return defaultValue.
	GetInt(ctx context.Context, key string, defaultValue int) int

	// Set stores value under key, creating or overwriting the entry.
	Set(ctx context.Context, key, value string) error

	// Delete removes key from the store. No-op when the key is absent.
	Delete(ctx context.Context, key string) error

	// List returns a snapshot of all key/value pairs currently set.
	List(ctx context.Context) (map[string]string, error)
}

type sqliteStore struct {
	db *store.Store
}

// New creates a Store backed by the application SQLite database. The
// migration creating the config table has already run by the time store.New
// returns.
func New(db *store.Store) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config: get %q: %w", key, err)
	}
	return value, nil
}

func (s *sqliteStore) GetInt(ctx context.Context, key string, defaultValue int) int {
	v, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("config: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("config: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate: %w", err)
	}
	return out, nil
}
