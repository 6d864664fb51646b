// Package pgstore is an optional Postgres-backed key-value store.
// cmd/gateway uses it to keep a shared copy of the ConfigMirror snapshot
// next to the local LKG file, for deployments where the gateway's local
// disk is not durable (e.g. ephemeral containers). Its WAL-cursor methods
// are not used by internal/auditwal, which keeps its cursor on local disk.
// Built on database/sql + github.com/lib/pq, following the
// same *sql.DB wrapper shape used elsewhere in this tree for small
// key-value state.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// Store persists JSON values in Postgres under fixed keys: a WAL cursor
// slot and a ConfigMirror snapshot slot.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and ensures the backing tables exist.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS gateway_kv (
	key   TEXT PRIMARY KEY,
	value JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	keyWALCursor  = "audit.offset"
	keyMirrorLKG  = "configmirror.lkg"
)

// PutJSON upserts an arbitrary JSON-encodable value under key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO gateway_kv (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, data)
	return err
}

// GetJSON loads the value stored under key into dst. Returns sql.ErrNoRows
// if absent.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) error {
	var raw []byte
	row := s.db.QueryRowContext(ctx, `SELECT value FROM gateway_kv WHERE key = $1`, key)
	if err := row.Scan(&raw); err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// PutWALCursor and GetWALCursor store and load a cursor value under the
// audit.offset key. internal/auditwal does not call them: the WAL reads
// and writes its cursor only in its local audit.offset file.
func (s *Store) PutWALCursor(ctx context.Context, cursor any) error {
	return s.PutJSON(ctx, keyWALCursor, cursor)
}

func (s *Store) GetWALCursor(ctx context.Context, dst any) error {
	return s.GetJSON(ctx, keyWALCursor, dst)
}

// PutMirrorLKG and GetMirrorLKG store and load a ConfigMirror snapshot,
// for deployments that want a shared Postgres copy alongside the
// per-instance local LKG file.
func (s *Store) PutMirrorLKG(ctx context.Context, snapshot any) error {
	return s.PutJSON(ctx, keyMirrorLKG, snapshot)
}

func (s *Store) GetMirrorLKG(ctx context.Context, dst any) error {
	return s.GetJSON(ctx, keyMirrorLKG, dst)
}
