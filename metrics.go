package dlock

import "sync/atomic"

// Counter names as they appear in Snapshot.
const (
	MetricAcquired = "acquired"
	MetricFailed   = "failed"
	MetricWaiting  = "waiting"
	MetricRenewed  = "renewed"
)

// Metrics holds monotonic counters for lock activity. All methods are safe
// for concurrent use.
type Metrics struct {
	acquired atomic.Uint64
	failed   atomic.Uint64
	waiting  atomic.Uint64
	renewed  atomic.Uint64
}

// Snapshot returns a point-in-time copy of all counters:
// successful acquisitions, failed or contended acquisitions, retry attempts
// past the first, and background lease renewals.
func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		MetricAcquired: m.acquired.Load(),
		MetricFailed:   m.failed.Load(),
		MetricWaiting:  m.waiting.Load(),
		MetricRenewed:  m.renewed.Load(),
	}
}
