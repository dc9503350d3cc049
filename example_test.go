package dlock_test

import (
	"context"
	"fmt"
	"time"

	"github.com/enverbisevac/dlock"
	"github.com/enverbisevac/dlock/inmem"
)

func Example() {
	manager := dlock.New(inmem.New(),
		dlock.WithKeyPrefix("inventory:lock:"),
		dlock.WithDefaultTTL(2*time.Second),
	)
	defer manager.Close()

	ctx := context.Background()
	session := manager.Session()

	err := session.WithLock(ctx, "sku-42", func(ctx context.Context) error {
		fmt.Println("adjusting stock for sku-42")
		return nil
	})
	if err != nil {
		fmt.Println("skipped:", err)
	}

	// A rival session cannot enter the same section concurrently.
	if _, err := session.TryLock(ctx, "sku-42"); err == nil {
		rival := manager.Session()
		acquired, _ := rival.TryLock(ctx, "sku-42")
		fmt.Println("rival acquired:", acquired)
	}

	// Output:
	// adjusting stock for sku-42
	// rival acquired: false
}
