// Package sqlite provides a SQLite-backed lease store for single-node
// deployments and hermetic tests. Expiry timestamps are unix milliseconds
// supplied by the client clock, since all connections share the same host.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/enverbisevac/dlock"
)

var _ dlock.Store = (*Store)(nil)

// Store implements dlock.Store using a SQLite lease table. Each operation
// is a single statement, which SQLite runs in its own implicit transaction.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a lease store on an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

// Open opens (or creates) the database at path and returns a migrated
// store. The busy timeout keeps concurrent single-statement writers from
// failing with SQLITE_BUSY.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the lease table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS dlock_leases (
			key TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			expires_ms INTEGER NOT NULL
		)`,
	)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// AcquireIfFree implements dlock.Store.
func (s *Store) AcquireIfFree(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	nowMS := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dlock_leases (key, token, expires_ms) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET token = excluded.token, expires_ms = excluded.expires_ms
		WHERE dlock_leases.token = excluded.token OR dlock_leases.expires_ms <= ?`,
		key, token, nowMS+ttl.Milliseconds(), nowMS,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: acquire: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: acquire: %w", err)
	}
	return rows == 1, nil
}

// ReleaseIfOwned implements dlock.Store.
func (s *Store) ReleaseIfOwned(ctx context.Context, key, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dlock_leases WHERE key = ? AND token = ? AND expires_ms > ?`,
		key, token, s.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: release: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: release: %w", err)
	}
	return rows == 1, nil
}

// ExtendIfOwned implements dlock.Store.
func (s *Store) ExtendIfOwned(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	nowMS := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE dlock_leases SET expires_ms = ? WHERE key = ? AND token = ? AND expires_ms > ?`,
		nowMS+ttl.Milliseconds(), key, token, nowMS,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: extend: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: extend: %w", err)
	}
	return rows == 1, nil
}

// Owner implements dlock.Store.
func (s *Store) Owner(ctx context.Context, key string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM dlock_leases WHERE key = ? AND expires_ms > ?`,
		key, s.now().UnixMilli(),
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: owner: %w", err)
	}
	return token, nil
}
