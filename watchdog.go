package dlock

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// renewOpTimeout bounds a single renewal round trip. A tick that runs over
// it is dropped; the next tick tries again with a fresh context.
const renewOpTimeout = 5 * time.Second

// watchdog keeps one held lease alive. It ticks at a fixed interval and
// extends the remote TTL as long as the owner token still matches. Its
// lifetime is tied to the lock: the final Unlock (or Manager.Close) stops
// it, and a lost lease terminates it after purging the session state.
type watchdog struct {
	manager  *Manager
	session  *Session
	entry    *entry
	interval time.Duration
	log      logr.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (w *watchdog) run() {
	defer close(w.done)
	defer w.manager.forgetWatchdog(w)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if !w.renew() {
				return
			}
		}
	}
}

// renew extends the lease once. It reports false when ownership is lost and
// the watchdog must terminate. A transport error is not retried within the
// tick; the next tick gets a fresh attempt.
func (w *watchdog) renew() bool {
	ctx, cancel := context.WithTimeout(context.Background(), renewOpTimeout)
	defer cancel()

	extended, err := w.manager.store.ExtendIfOwned(ctx, w.entry.storeKey, w.entry.token, w.entry.leaseTTL())
	if err != nil {
		w.log.Error(err, "dlock: lease renewal", "key", w.entry.storeKey)
		return true
	}
	if !extended {
		w.log.Info("dlock: lease lost, dropping local state", "key", w.entry.storeKey)
		w.session.purge(w.entry)
		return false
	}

	w.manager.metrics.renewed.Add(1)
	return true
}

// signalStop requests termination without waiting for it. Safe to call
// multiple times and from callers holding session state.
func (w *watchdog) signalStop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
