// Package redis provides a Redis-backed lease store. Every operation is a
// single Lua script evaluation, so the check-then-act sequences are atomic
// with respect to all other Redis clients.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enverbisevac/dlock"
)

var _ dlock.Store = (*Store)(nil)

// acquireScript sets the key when free, refreshes the ttl when the caller
// already owns it, and fails otherwise.
var acquireScript = redis.NewScript(`
	local v = redis.call("GET", KEYS[1])
	if v == false then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	if v == ARGV[1] then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

// releaseScript deletes the key only when the value matches, so a holder
// cannot remove a lock it lost to expiry.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// extendScript resets the ttl only when the value matches.
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`)

// Store implements dlock.Store on a Redis connection. The client may be
// shared with the rest of the application; its lifecycle stays with the
// caller.
type Store struct {
	client redis.UniversalClient
}

// New creates a Redis lease store.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// AcquireIfFree implements dlock.Store.
func (s *Store) AcquireIfFree(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, s.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: acquire: %w", err)
	}
	return res == 1, nil
}

// ReleaseIfOwned implements dlock.Store.
func (s *Store) ReleaseIfOwned(ctx context.Context, key, token string) (bool, error) {
	res, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: release: %w", err)
	}
	return res == 1, nil
}

// ExtendIfOwned implements dlock.Store.
func (s *Store) ExtendIfOwned(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, s.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: extend: %w", err)
	}
	return res == 1, nil
}

// Owner implements dlock.Store.
func (s *Store) Owner(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: owner: %w", err)
	}
	return val, nil
}
