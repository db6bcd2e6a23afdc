package batcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// batcherMetrics holds the prometheus collectors for one Batcher or
// StreamBatcher instance. Collectors are created per-instance and
// registered into the caller-supplied registerer rather than via a
// package-level init(), so two differently named Batchers in one process
// don't collide and tests can use their own registry.
type batcherMetrics struct {
	batchSize       prometheus.Histogram
	dispatchLatency prometheus.Histogram
	queueDepth      prometheus.Gauge
	dispatchErrors  prometheus.Counter
}

func newBatcherMetrics(reg prometheus.Registerer, name string) *batcherMetrics {
	labels := prometheus.Labels{"batcher": name}

	m := &batcherMetrics{
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "batcher",
			Name:        "batch_size",
			Help:        "Number of requests carried by each dispatched batch.",
			Buckets:     prometheus.LinearBuckets(1, 4, 8),
			ConstLabels: labels,
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "batcher",
			Name:        "dispatch_duration_seconds",
			Help:        "Time spent inside one batch function invocation.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "batcher",
			Name:        "queue_depth",
			Help:        "Requests currently waiting to be claimed into a batch.",
			ConstLabels: labels,
		}),
		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "batcher",
			Name:        "dispatch_errors_total",
			Help:        "Dispatches that ended in a user error, panic, or shape mismatch.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.batchSize, m.dispatchLatency, m.queueDepth, m.dispatchErrors)
	}

	return m
}

func (m *batcherMetrics) observeDispatch(size int, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	m.dispatchLatency.Observe(dur.Seconds())
	if failed {
		m.dispatchErrors.Inc()
	}
}

func (m *batcherMetrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
