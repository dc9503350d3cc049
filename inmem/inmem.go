// Package inmem provides an in-memory lease store for single-process use
// and tests.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/enverbisevac/dlock"
)

var _ dlock.Store = (*Store)(nil)

type record struct {
	token     string
	expiresAt time.Time
}

// Store implements dlock.Store with a mutex-guarded map. Expired records
// are treated as absent and reaped lazily on access.
type Store struct {
	mu    sync.Mutex
	locks map[string]record
	now   func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		locks: make(map[string]record),
		now:   time.Now,
	}
}

// AcquireIfFree implements dlock.Store.
func (s *Store) AcquireIfFree(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.current(key)
	if ok && r.token != token {
		return false, nil
	}
	s.locks[key] = record{token: token, expiresAt: s.now().Add(ttl)}
	return true, nil
}

// ReleaseIfOwned implements dlock.Store.
func (s *Store) ReleaseIfOwned(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.current(key)
	if !ok || r.token != token {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

// ExtendIfOwned implements dlock.Store.
func (s *Store) ExtendIfOwned(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.current(key)
	if !ok || r.token != token {
		return false, nil
	}
	s.locks[key] = record{token: token, expiresAt: s.now().Add(ttl)}
	return true, nil
}

// Owner implements dlock.Store.
func (s *Store) Owner(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.current(key)
	if !ok {
		return "", nil
	}
	return r.token, nil
}

// current returns the live record for key, reaping it when expired.
// Callers hold s.mu.
func (s *Store) current(key string) (record, bool) {
	r, ok := s.locks[key]
	if !ok {
		return record{}, false
	}
	if !r.expiresAt.After(s.now()) {
		delete(s.locks, key)
		return record{}, false
	}
	return r, true
}
