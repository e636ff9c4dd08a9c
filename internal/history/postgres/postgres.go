// Package postgres keeps history lists in PostgreSQL. Each key is one row
// holding the whole list as a JSONB array, newest first.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tutorlive/internal/history"
)

var _ history.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS tutor_history (
    key         TEXT         PRIMARY KEY,
    entries     JSONB        NOT NULL DEFAULT '[]'::jsonb,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the history table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres history: migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed [history.Store]. It is safe for concurrent
// use.
type Store struct {
	pool  *pgxpool.Pool
	limit int
}

// NewStore connects to dsn, checks the connection, and runs [Migrate]. A
// positive limit caps each list.
func NewStore(ctx context.Context, dsn string, limit int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, limit: limit}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// List implements [history.Store].
func (s *Store) List(ctx context.Context, key string) ([]history.Entry, error) {
	if key == "" {
		return nil, history.ErrInvalidKey
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT entries FROM tutor_history WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []history.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres history: list %s: %w", key, err)
	}
	return decode(raw)
}

// Add implements [history.Store]. The read-modify-write runs in one
// transaction holding the row lock.
func (s *Store) Add(ctx context.Context, key string, e history.Entry) error {
	if key == "" {
		return history.ErrInvalidKey
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tutor_history (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key); err != nil {
			return err
		}
		var raw []byte
		if err := tx.QueryRow(ctx, `SELECT entries FROM tutor_history WHERE key = $1 FOR UPDATE`, key).Scan(&raw); err != nil {
			return err
		}
		list, err := decode(raw)
		if err != nil {
			return err
		}
		data, err := json.Marshal(history.Prepend(list, e, s.limit))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE tutor_history SET entries = $2, updated_at = now() WHERE key = $1`, key, data)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres history: add to %s: %w", key, err)
	}
	return nil
}

// Clear implements [history.Store].
func (s *Store) Clear(ctx context.Context, key string) error {
	if key == "" {
		return history.ErrInvalidKey
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM tutor_history WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres history: clear %s: %w", key, err)
	}
	return nil
}

func decode(raw []byte) ([]history.Entry, error) {
	list := []history.Entry{}
	if len(raw) == 0 {
		return list, nil
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("postgres history: decode entries: %w", err)
	}
	return list, nil
}
