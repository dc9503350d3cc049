package dlock_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enverbisevac/dlock"
	"github.com/enverbisevac/dlock/inmem"
)

// flakyStore wraps a real store and fails ExtendIfOwned with a transport
// error while failing is set.
type flakyStore struct {
	dlock.Store
	failing   atomic.Bool
	extendErr error
}

func (f *flakyStore) ExtendIfOwned(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if f.failing.Load() {
		return false, f.extendErr
	}
	return f.Store.ExtendIfOwned(ctx, key, token, ttl)
}

func TestWatchdogKeepsLockAlive(t *testing.T) {
	m := dlock.New(inmem.New(),
		dlock.WithDefaultTTL(120*time.Millisecond),
		dlock.WithRenewInterval(40*time.Millisecond))
	defer m.Close()

	ctx := context.Background()
	a := m.Session()
	b := m.Session()

	if _, err := a.TryLock(ctx, "resource"); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	// Hold for five TTLs; the lock must never fall to the rival.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		acquired, err := b.TryLock(ctx, "resource")
		if err != nil {
			t.Fatalf("TryLock() error = %v", err)
		}
		if acquired {
			t.Fatal("rival acquired a lock that should be kept alive by renewal")
		}
		time.Sleep(20 * time.Millisecond)
	}

	held, err := a.IsLocked(ctx, "resource")
	if err != nil || !held {
		t.Fatalf("IsLocked() = %v, %v; want true after renewals", held, err)
	}
	if m.Metrics().Snapshot()[dlock.MetricRenewed] == 0 {
		t.Fatal("renewed counter should have advanced")
	}

	released, err := a.Unlock(ctx, "resource")
	if err != nil || !released {
		t.Fatalf("Unlock() = %v, %v; want release", released, err)
	}

	acquired, err := b.TryLock(ctx, "resource")
	if err != nil || !acquired {
		t.Fatalf("TryLock() = %v, %v; want acquisition right after release", acquired, err)
	}
}

func TestWatchdogPurgesLostLease(t *testing.T) {
	store := inmem.New()
	m := dlock.New(store,
		dlock.WithDefaultTTL(200*time.Millisecond),
		dlock.WithRenewInterval(30*time.Millisecond))
	defer m.Close()

	ctx := context.Background()
	s := m.Session()

	if _, err := s.TryLock(ctx, "resource"); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	// Steal the lease out from under the holder.
	token, err := store.Owner(ctx, "lock:resource")
	if err != nil || token == "" {
		t.Fatalf("Owner() = %q, %v; want a live token", token, err)
	}
	if _, err := store.ReleaseIfOwned(ctx, "lock:resource", token); err != nil {
		t.Fatalf("ReleaseIfOwned() error = %v", err)
	}

	// Within a couple of ticks the watchdog notices and purges the entry.
	time.Sleep(100 * time.Millisecond)

	held, err := s.IsLocked(ctx, "resource")
	if err != nil || held {
		t.Fatalf("IsLocked() = %v, %v; want false after lost lease", held, err)
	}
	released, err := s.Unlock(ctx, "resource")
	if err != nil || released {
		t.Fatalf("Unlock() = %v, %v; want false, nil after lost lease", released, err)
	}
}

func TestWatchdogToleratesTransportErrors(t *testing.T) {
	store := &flakyStore{Store: inmem.New(), extendErr: context.DeadlineExceeded}
	m := dlock.New(store,
		dlock.WithDefaultTTL(300*time.Millisecond),
		dlock.WithRenewInterval(30*time.Millisecond))
	defer m.Close()

	ctx := context.Background()
	s := m.Session()

	if _, err := s.TryLock(ctx, "resource"); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	// A few failed ticks must not purge local state; the next healthy tick
	// resumes renewing.
	store.failing.Store(true)
	time.Sleep(100 * time.Millisecond)
	store.failing.Store(false)
	time.Sleep(100 * time.Millisecond)

	held, err := s.IsLocked(ctx, "resource")
	if err != nil || !held {
		t.Fatalf("IsLocked() = %v, %v; want true across transient renewal errors", held, err)
	}
}

func TestCloseStopsRenewalWithoutRelease(t *testing.T) {
	store := inmem.New()
	m := dlock.New(store,
		dlock.WithDefaultTTL(100*time.Millisecond),
		dlock.WithRenewInterval(30*time.Millisecond))

	ctx := context.Background()
	s := m.Session()

	if _, err := s.TryLock(ctx, "resource"); err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	m.Close()

	// The remote lease is left to expire, not proactively released.
	owner, err := store.Owner(ctx, "lock:resource")
	if err != nil || owner == "" {
		t.Fatalf("Owner() = %q, %v; lease should survive Close", owner, err)
	}

	// Without renewal the TTL reclaims it.
	time.Sleep(200 * time.Millisecond)
	owner, err = store.Owner(ctx, "lock:resource")
	if err != nil || owner != "" {
		t.Fatalf("Owner() = %q, %v; lease should expire after Close", owner, err)
	}
}
