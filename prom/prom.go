// Package prom exposes dlock metrics as a Prometheus collector. The
// collector reads counter snapshots on scrape; nothing is registered into
// the default registry implicitly.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/enverbisevac/dlock"
)

var _ prometheus.Collector = (*Collector)(nil)

// Collector bridges dlock.Metrics to Prometheus.
type Collector struct {
	metrics *dlock.Metrics

	acquired *prometheus.Desc
	failed   *prometheus.Desc
	waiting  *prometheus.Desc
	renewed  *prometheus.Desc
}

// NewCollector creates a collector over the given metrics. Register it with
// a prometheus.Registerer of your choice.
func NewCollector(m *dlock.Metrics) *Collector {
	return &Collector{
		metrics: m,
		acquired: prometheus.NewDesc(
			"dlock_acquired_total",
			"Total successful lock acquisitions",
			nil, nil,
		),
		failed: prometheus.NewDesc(
			"dlock_failed_total",
			"Total failed or contended lock acquisitions",
			nil, nil,
		),
		waiting: prometheus.NewDesc(
			"dlock_waiting_total",
			"Total retry attempts past the first",
			nil, nil,
		),
		renewed: prometheus.NewDesc(
			"dlock_renewed_total",
			"Total background lease renewals",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.failed
	ch <- c.waiting
	ch <- c.renewed
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(snap[dlock.MetricAcquired]))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap[dlock.MetricFailed]))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.CounterValue, float64(snap[dlock.MetricWaiting]))
	ch <- prometheus.MustNewConstMetric(c.renewed, prometheus.CounterValue, float64(snap[dlock.MetricRenewed]))
}
