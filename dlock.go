// Package dlock implements a reentrant distributed lock on top of a shared
// key-value store with lease-based expiry.
//
// A Manager wraps a Store (Redis, PostgreSQL, SQLite or in-memory) and hands
// out Sessions. A Session tracks which locks its calling context holds, so
// nested TryLock calls on the same key succeed without a second remote
// acquisition and require a matching number of Unlock calls. Held leases are
// renewed in the background until released, so a crashed holder loses its
// locks after at most one TTL.
//
// Locks are advisory. A lease can be lost while a critical section is still
// running (store outage, sections longer than the TTL), in which case local
// state is purged and later IsLocked/Unlock calls report the loss; the
// running section is not interrupted. Callers should keep critical sections
// well under the TTL or make them idempotent.
package dlock

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors returned by lock operations.
var (
	// ErrEmptyKey is returned when a blank lock key is supplied.
	// No remote call is attempted.
	ErrEmptyKey = errors.New("dlock: empty lock key")

	// ErrNotAcquired is returned by WithLock and WithLockValue when the
	// lock is held elsewhere. The protected function does not run.
	ErrNotAcquired = errors.New("dlock: lock not acquired")

	// ErrClosed is returned when acquiring through a closed Manager.
	ErrClosed = errors.New("dlock: manager closed")
)

// Store is the atomic-operation contract against the shared key-value
// store. Implementations must make each of the three mutating operations
// indivisible with respect to other callers (server-side script, conditional
// statement, or transaction) and must be safe for concurrent use: callers
// and renewal goroutines share one Store.
//
// The store is the sole arbiter of mutual exclusion; everything a Session
// tracks locally is a cache on top of it.
type Store interface {
	// AcquireIfFree sets key to token with the given ttl and returns true
	// when no value exists for key. When the stored value already equals
	// token it refreshes the ttl and returns true (idempotent re-acquire).
	// Otherwise it returns false.
	AcquireIfFree(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseIfOwned deletes key and returns true when the stored value
	// equals token. It returns false when someone else owns the key or the
	// lease already expired.
	ReleaseIfOwned(ctx context.Context, key, token string) (bool, error)

	// ExtendIfOwned resets the ttl and returns true when the stored value
	// equals token, false otherwise.
	ExtendIfOwned(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Owner returns the token currently stored for key, or "" when the key
	// is free. Read-only; used to verify ownership without touching the ttl.
	Owner(ctx context.Context, key string) (string, error)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
