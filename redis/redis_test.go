package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/enverbisevac/dlock"
)

func getTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})

	return New(client), mr
}

func TestAcquireIfFree(t *testing.T) {
	s, _ := getTestStore(t)
	ctx := context.Background()

	acquired, err := s.AcquireIfFree(ctx, "key", "token-a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireIfFree() error = %v", err)
	}
	if !acquired {
		t.Fatal("AcquireIfFree() should acquire a free key")
	}

	acquired, err = s.AcquireIfFree(ctx, "key", "token-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireIfFree() error = %v", err)
	}
	if acquired {
		t.Fatal("AcquireIfFree() should fail for a held key")
	}

	// Idempotent re-acquire by the owner refreshes the ttl.
	acquired, err = s.AcquireIfFree(ctx, "key", "token-a", time.Minute)
	if err != nil {
		t.Fatalf("AcquireIfFree() error = %v", err)
	}
	if !acquired {
		t.Fatal("AcquireIfFree() should succeed for the owning token")
	}
}

func TestReleaseIfOwned(t *testing.T) {
	s, _ := getTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireIfFree(ctx, "key", "token-a", time.Minute); err != nil {
		t.Fatalf("AcquireIfFree() error = %v", err)
	}

	released, err := s.ReleaseIfOwned(ctx, "key", "token-b")
	if err != nil {
		t.Fatalf("ReleaseIfOwned() error = %v", err)
	}
	if released {
		t.Fatal("ReleaseIfOwned() should fail for a non-owning token")
	}

	released, err = s.ReleaseIfOwned(ctx, "key", "token-a")
	if err != nil {
		t.Fatalf("ReleaseIfOwned() error = %v", err)
	}
	if !released {
		t.Fatal("ReleaseIfOwned() should succeed for the owner")
	}

	owner, err := s.Owner(ctx, "key")
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	if owner != "" {
		t.Fatalf("Owner() = %q after release, want empty", owner)
	}
}

func TestExtendIfOwned(t *testing.T) {
	s, mr := getTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireIfFree(ctx, "key", "token-a", 100*time.Millisecond); err != nil {
		t.Fatalf("AcquireIfFree() error = %v", err)
	}

	extended, err := s.ExtendIfOwned(ctx, "key", "token-a", time.Minute)
	if err != nil {
		t.Fatalf("ExtendIfOwned() error = %v", err)
	}
	if !extended {
		t.Fatal("ExtendIfOwned() should succeed for the owner")
	}

	// Past the original ttl the extended lease is still there.
	mr.FastForward(30 * time.Second)
	owner, err := s.Owner(ctx, "key")
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	if owner != "token-a" {
		t.Fatalf("Owner() = %q, want %q", owner, "token-a")
	}

	extended, err = s.ExtendIfOwned(ctx, "key", "token-b", time.Minute)
	if err != nil {
		t.Fatalf("ExtendIfOwned() error = %v", err)
	}
	if extended {
		t.Fatal("ExtendIfOwned() should fail for a non-owning token")
	}
}

func TestExpiry(t *testing.T) {
	s, mr := getTestStore(t)
	ctx := context.Background()

	if _, err := s.AcquireIfFree(ctx, "key", "token-a", time.Second); err != nil {
		t.Fatalf("AcquireIfFree() error = %v", err)
	}

	mr.FastForward(2 * time.Second)

	owner, err := s.Owner(ctx, "key")
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	if owner != "" {
		t.Fatalf("Owner() = %q after expiry, want empty", owner)
	}

	extended, err := s.ExtendIfOwned(ctx, "key", "token-a", time.Minute)
	if err != nil {
		t.Fatalf("ExtendIfOwned() error = %v", err)
	}
	if extended {
		t.Fatal("ExtendIfOwned() should fail after expiry")
	}

	acquired, err := s.AcquireIfFree(ctx, "key", "token-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireIfFree() error = %v", err)
	}
	if !acquired {
		t.Fatal("AcquireIfFree() should succeed after expiry")
	}
}

func TestManagerOverRedis(t *testing.T) {
	s, _ := getTestStore(t)

	m := dlock.New(s, dlock.WithAutoRenew(false))
	defer m.Close()

	ctx := context.Background()
	a := m.Session()
	b := m.Session()

	acquired, err := a.TryLock(ctx, "resource")
	if err != nil || !acquired {
		t.Fatalf("TryLock() = %v, %v; want acquisition", acquired, err)
	}

	acquired, err = b.TryLock(ctx, "resource")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if acquired {
		t.Fatal("TryLock() should fail while the rival session holds the lock")
	}

	held, err := a.IsLocked(ctx, "resource")
	if err != nil || !held {
		t.Fatalf("IsLocked() = %v, %v; want true", held, err)
	}

	released, err := a.Unlock(ctx, "resource")
	if err != nil || !released {
		t.Fatalf("Unlock() = %v, %v; want release", released, err)
	}

	acquired, err = b.TryLock(ctx, "resource")
	if err != nil || !acquired {
		t.Fatalf("TryLock() after release = %v, %v; want acquisition", acquired, err)
	}
}
