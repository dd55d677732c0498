package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultSavedListKey is the key the saved list is stored under.
const DefaultSavedListKey = "SAVED_LIST"

// KVStore is the key-value persistence collaborator.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type KVStore interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set overwrites the value for key.
	Set(ctx context.Context, key string, value []byte) error
}

// SavedStore reads and writes the saved device list as a single JSON
// array under one key.
type SavedStore struct {
	kv     KVStore
	key    string
	logger Logger
}

// NewSavedStore creates a SavedStore over kv. An empty key selects
// DefaultSavedListKey.
func NewSavedStore(kv KVStore, key string) *SavedStore {
	if key == "" {
		key = DefaultSavedListKey
	}
	return &SavedStore{
		kv:     kv,
		key:    key,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *SavedStore) SetLogger(logger Logger) {
	s.logger = logger
}

// Key returns the storage key in use.
func (s *SavedStore) Key() string {
	return s.key
}

// Load reads the saved list.
//
// An absent key yields an empty list and no error. A read or decode
// failure also yields an empty list, and the error (wrapping
// ErrPersistenceFailure) is returned for the caller to log; it is never
// fatal. Entries with an empty ID are skipped.
func (s *SavedStore) Load(ctx context.Context) ([]Device, error) {
	data, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("reading saved list failed", "key", s.key, "error", err)
		return []Device{}, fmt.Errorf("%w: reading %s: %w", ErrPersistenceFailure, s.key, err)
	}
	if !found || len(data) == 0 {
		return []Device{}, nil
	}

	var list []Device
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("decoding saved list failed", "key", s.key, "error", err)
		return []Device{}, fmt.Errorf("%w: decoding %s: %w", ErrPersistenceFailure, s.key, err)
	}

	out := make([]Device, 0, len(list))
	for _, d := range list {
		if d.ID == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Save overwrites the stored list with the full list given.
func (s *SavedStore) Save(ctx context.Context, list []Device) error {
	if list == nil {
		list = []Device{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPersistenceFailure, s.key, err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrPersistenceFailure, s.key, err)
	}
	return nil
}

// SQLiteKV implements KVStore on the kv_store table.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV creates a KVStore backed by db. The kv_store migration
// must have been applied.
func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

// Get returns the value stored under key.
func (k *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := k.db.QueryRowContext(ctx,
		"SELECT value FROM kv_store WHERE key = ?", key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying key %s: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or replaces the value stored under key.
func (k *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}
