// Package pgx provides a PostgreSQL-backed lease store. Each operation is a
// single conditional statement, which PostgreSQL executes atomically, and
// expired rows count as free: a dead holder's lease is overwritten in place
// rather than cleaned up out of band.
package pgx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enverbisevac/dlock"
)

var _ dlock.Store = (*Store)(nil)

// Store implements dlock.Store using a PostgreSQL lease table.
type Store struct {
	config Config
	pool   *pgxpool.Pool
	db     *sql.DB
}

// New creates a lease store using pgxpool.
func New(pool *pgxpool.Pool, options ...Option) *Store {
	config := Config{
		TableName: "dlock_leases",
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Store{
		config: config,
		pool:   pool,
	}
}

// NewStdLib creates a lease store using database/sql with the pgx stdlib
// driver.
func NewStdLib(db *sql.DB, options ...Option) *Store {
	config := Config{
		TableName: "dlock_leases",
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Store{
		config: config,
		db:     db,
	}
}

// Migrate creates the lease table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key text PRIMARY KEY,
			token text NOT NULL,
			expires_at timestamptz NOT NULL
		)`,
		s.config.TableName,
	)
	if _, err := s.exec(ctx, query); err != nil {
		return fmt.Errorf("pgx: migrate: %w", err)
	}
	return nil
}

// AcquireIfFree implements dlock.Store. The upsert succeeds when the key is
// absent, expired, or already owned by token; otherwise zero rows change.
func (s *Store) AcquireIfFree(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	query := fmt.Sprintf(
		`INSERT INTO %s AS l (key, token, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 millisecond')
		ON CONFLICT (key) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE l.token = EXCLUDED.token OR l.expires_at <= now()`,
		s.config.TableName,
	)
	rows, err := s.exec(ctx, query, key, token, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("pgx: acquire: %w", err)
	}
	return rows == 1, nil
}

// ReleaseIfOwned implements dlock.Store.
func (s *Store) ReleaseIfOwned(ctx context.Context, key, token string) (bool, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE key = $1 AND token = $2 AND expires_at > now()`,
		s.config.TableName,
	)
	rows, err := s.exec(ctx, query, key, token)
	if err != nil {
		return false, fmt.Errorf("pgx: release: %w", err)
	}
	return rows == 1, nil
}

// ExtendIfOwned implements dlock.Store.
func (s *Store) ExtendIfOwned(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	query := fmt.Sprintf(
		`UPDATE %s SET expires_at = now() + $3 * interval '1 millisecond'
		WHERE key = $1 AND token = $2 AND expires_at > now()`,
		s.config.TableName,
	)
	rows, err := s.exec(ctx, query, key, token, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("pgx: extend: %w", err)
	}
	return rows == 1, nil
}

// Owner implements dlock.Store.
func (s *Store) Owner(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(
		`SELECT token FROM %s WHERE key = $1 AND expires_at > now()`,
		s.config.TableName,
	)

	var token string
	var err error
	if s.pool != nil {
		err = s.pool.QueryRow(ctx, query, key).Scan(&token)
	} else {
		err = s.db.QueryRowContext(ctx, query, key).Scan(&token)
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pgx: owner: %w", err)
	}
	return token, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if s.pool != nil {
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
