package dlock

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Manager coordinates lock sessions over a shared Store. It is safe for
// concurrent use; create one Manager per store and hand out one Session per
// logical calling context.
type Manager struct {
	store   Store
	config  Config
	metrics *Metrics

	mu        sync.Mutex
	closed    bool
	watchdogs map[*watchdog]struct{}
}

// New creates a Manager over the given store.
func New(store Store, options ...Option) *Manager {
	config := defaultConfig()
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Manager{
		store:     store,
		config:    config,
		metrics:   &Metrics{},
		watchdogs: make(map[*watchdog]struct{}),
	}
}

// Session returns a new lock session. A session tracks reentrant ownership
// for one logical calling context (a goroutine, a request, a task); do not
// share one session between independent contexts.
func (m *Manager) Session() *Session {
	return &Session{
		id:      uuid.NewString(),
		manager: m,
		held:    make(map[string]*entry),
	}
}

// Metrics returns the manager's counters.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Close stops all renewal tasks and waits for them to finish. Remote locks
// are not released; their TTLs reclaim them. New acquisitions fail with
// ErrClosed, while Unlock and IsLocked on already-held locks keep working.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	active := make([]*watchdog, 0, len(m.watchdogs))
	for w := range m.watchdogs {
		active = append(active, w)
	}
	m.mu.Unlock()

	for _, w := range active {
		w.signalStop()
	}
	for _, w := range active {
		<-w.done
	}
}

// storeKey validates key and applies the configured prefix.
func (m *Manager) storeKey(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return m.config.KeyPrefix + key, nil
}

func (m *Manager) acquireConfig(options ...AcquireOption) AcquireConfig {
	config := AcquireConfig{
		TTL:        m.config.DefaultTTL,
		Retries:    m.config.MaxRetries,
		RetryDelay: m.config.RetryDelay,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Retries < 1 {
		config.Retries = 1
	}
	return config
}

// startWatchdog registers and starts a renewal task for e, or returns nil
// when the manager is already closed.
func (m *Manager) startWatchdog(s *Session, e *entry, log logr.Logger) *watchdog {
	interval := m.config.RenewInterval
	ttl := e.leaseTTL()
	if interval <= 0 || interval >= ttl {
		interval = ttl / 3
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	w := &watchdog{
		manager:  m,
		session:  s,
		entry:    e,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.watchdogs[w] = struct{}{}
	m.mu.Unlock()

	go w.run()
	return w
}

func (m *Manager) forgetWatchdog(w *watchdog) {
	m.mu.Lock()
	delete(m.watchdogs, w)
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
