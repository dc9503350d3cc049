package dlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// releaseTimeout bounds the deferred unlock in WithLock/WithLockValue so a
// cancelled caller context cannot leave the lock dangling until TTL expiry.
const releaseTimeout = 5 * time.Second

// entry is the local reentrant state for one held lock.
type entry struct {
	storeKey string
	token    string
	depth    int // guarded by Session.mu
	ttl      atomic.Int64
	wd       *watchdog
}

func (e *entry) leaseTTL() time.Duration {
	return time.Duration(e.ttl.Load())
}

func (e *entry) setLeaseTTL(d time.Duration) {
	e.ttl.Store(int64(d))
}

// Session tracks reentrant lock ownership for one logical calling context.
// Create it with Manager.Session and do not share it between independent
// contexts: depth counting assumes a single logical caller. The session is
// still internally synchronized because renewal tasks purge its state when
// a lease is lost.
type Session struct {
	id      string
	manager *Manager

	mu   sync.Mutex
	held map[string]*entry
}

// TryLock attempts to acquire the lock for key, without waiting.
//
// When the session already holds key, the call is reentrant: the remote
// lease is re-extended with the requested TTL (latest requested TTL wins)
// and the depth is incremented. If the remote record vanished in the
// meantime, the stale local state is dropped and a fresh acquisition is
// attempted with a new owner token.
//
// It returns false when the lock is held elsewhere; there is no fairness
// between racing callers.
func (s *Session) TryLock(ctx context.Context, key string, options ...AcquireOption) (bool, error) {
	storeKey, err := s.manager.storeKey(key)
	if err != nil {
		return false, err
	}
	if s.manager.isClosed() {
		return false, ErrClosed
	}
	ac := s.manager.acquireConfig(options...)
	log := logr.FromContextOrDiscard(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.held[storeKey]; ok {
		extended, err := s.manager.store.ExtendIfOwned(ctx, storeKey, e.token, ac.TTL)
		if err != nil {
			s.manager.metrics.failed.Add(1)
			return false, fmt.Errorf("dlock: reacquire %q: %w", key, err)
		}
		if extended {
			e.depth++
			e.setLeaseTTL(ac.TTL)
			return true, nil
		}
		// The lease expired underneath us; drop the stale entry and fall
		// through to a fresh acquisition.
		log.Info("dlock: lease lost before reentrant acquire", "key", key)
		s.dropLocked(e)
	}

	token := s.id + ":" + uuid.NewString()
	acquired, err := s.manager.store.AcquireIfFree(ctx, storeKey, token, ac.TTL)
	if err != nil {
		s.manager.metrics.failed.Add(1)
		return false, fmt.Errorf("dlock: acquire %q: %w", key, err)
	}
	if !acquired {
		s.manager.metrics.failed.Add(1)
		return false, nil
	}

	e := &entry{storeKey: storeKey, token: token, depth: 1}
	e.setLeaseTTL(ac.TTL)
	if s.manager.config.AutoRenew {
		e.wd = s.manager.startWatchdog(s, e, log)
	}
	s.held[storeKey] = e
	s.manager.metrics.acquired.Add(1)
	return true, nil
}

// TryLockRetry calls TryLock up to the configured number of attempts with a
// fixed delay in between, returning on the first success. Attempts past the
// first are counted in the waiting metric. A cancelled context aborts the
// delay immediately.
func (s *Session) TryLockRetry(ctx context.Context, key string, options ...AcquireOption) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	ac := s.manager.acquireConfig(options...)

	var lastErr error
	for attempt := 1; attempt <= ac.Retries; attempt++ {
		if attempt > 1 {
			s.manager.metrics.waiting.Add(1)
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(ac.RetryDelay):
			}
		}

		acquired, err := s.TryLock(ctx, key, options...)
		if acquired {
			return true, nil
		}
		if errors.Is(err, ErrClosed) {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}

// Unlock releases one level of the lock for key. The lock is released
// remotely only when the depth reaches zero; inner releases re-extend the
// lease for the outer holder instead.
//
// Releasing a key this session does not hold is reported as (false, nil),
// not an error: after a lost lease a double release is a normal race.
func (s *Session) Unlock(ctx context.Context, key string) (bool, error) {
	storeKey, err := s.manager.storeKey(key)
	if err != nil {
		return false, err
	}
	log := logr.FromContextOrDiscard(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.held[storeKey]
	if !ok {
		log.Info("dlock: unlock of lock not held", "key", key)
		return false, nil
	}

	if e.depth > 1 {
		e.depth--
		if _, err := s.manager.store.ExtendIfOwned(ctx, storeKey, e.token, e.leaseTTL()); err != nil {
			// Bookkeeping only; the watchdog or the next release will
			// observe the real state.
			log.Error(err, "dlock: extend on nested unlock", "key", key)
		}
		return true, nil
	}

	released, err := s.manager.store.ReleaseIfOwned(ctx, storeKey, e.token)
	s.dropLocked(e)
	if err != nil {
		return false, fmt.Errorf("dlock: release %q: %w", key, err)
	}
	if !released {
		log.Info("dlock: stale release, lease already gone", "key", key)
		return false, nil
	}
	return true, nil
}

// IsLocked reports whether this session still holds the lock for key. The
// remote owner token is verified; when the lease silently expired or was
// taken over, the local state is purged and false is returned.
func (s *Session) IsLocked(ctx context.Context, key string) (bool, error) {
	storeKey, err := s.manager.storeKey(key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	e, ok := s.held[storeKey]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	owner, err := s.manager.store.Owner(ctx, storeKey)
	if err != nil {
		return false, fmt.Errorf("dlock: check %q: %w", key, err)
	}
	if owner != e.token {
		logr.FromContextOrDiscard(ctx).Info("dlock: lease lost", "key", key)
		s.purge(e)
		return false, nil
	}
	return true, nil
}

// WithLock runs fn while holding the lock for key and releases it exactly
// once afterwards, also when fn returns an error or panics. When the lock
// is held elsewhere it returns ErrNotAcquired and fn does not run.
func (s *Session) WithLock(ctx context.Context, key string, fn func(context.Context) error, options ...AcquireOption) error {
	acquired, err := s.TryLock(ctx, key, options...)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrNotAcquired
	}
	defer s.release(ctx, key)

	return fn(ctx)
}

// WithLockValue is the value-returning form of Session.WithLock. It is a
// package-level function because methods cannot have type parameters.
func WithLockValue[T any](ctx context.Context, s *Session, key string, fn func(context.Context) (T, error), options ...AcquireOption) (T, error) {
	var zero T

	acquired, err := s.TryLock(ctx, key, options...)
	if err != nil {
		return zero, err
	}
	if !acquired {
		return zero, ErrNotAcquired
	}
	defer s.release(ctx, key)

	return fn(ctx)
}

// release is the deferred unlock for the scoped helpers. It runs on a
// fresh context so a caller cancellation during fn cannot prevent the
// release.
func (s *Session) release(ctx context.Context, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if _, err := s.Unlock(rctx, key); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "dlock: scoped release", "key", key)
	}
}

// purge drops the local state for e if it is still current. Called by the
// watchdog and by IsLocked when the remote lease turns out to be gone.
func (s *Session) purge(e *entry) {
	s.mu.Lock()
	if cur, ok := s.held[e.storeKey]; ok && cur == e {
		s.dropLocked(e)
	}
	s.mu.Unlock()
}

// dropLocked removes e and stops its renewal task. Callers hold s.mu.
func (s *Session) dropLocked(e *entry) {
	delete(s.held, e.storeKey)
	if e.wd != nil {
		e.wd.signalStop()
	}
}
