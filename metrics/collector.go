// Package metrics exposes drain engine measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/franksops/bbdrain/engine"
)

// Collector is the Prometheus implementation of engine.Observer.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTasked       *prometheus.CounterVec
	bytesSucceeded    *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	queueDepthMax     prometheus.Gauge

	maxDepth int
}

var _ engine.Observer = (*Collector)(nil)

// NewCollector registers the drain metrics with reg. A nil reg registers
// with the Prometheus default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Collector{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bbdrain_operations_total",
				Help: "Total number of drain operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bbdrain_operation_duration_milliseconds",
				Help: "Duration of drain operations in milliseconds",
				Buckets: []float64{
					0.1,   // cached opens
					1,     // small writes
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s - large copies
					10000, // 10s
					60000, // 1m - very large copies
				},
			},
			[]string{"kind"},
		),
		bytesTasked: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bbdrain_bytes_tasked_total",
				Help: "Total bytes requested from the file accessor",
			},
			[]string{"direction"},
		),
		bytesSucceeded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bbdrain_bytes_succeeded_total",
				Help: "Total bytes the file accessor reported as transferred",
			},
			[]string{"direction"},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "bbdrain_queue_depth",
				Help: "Current number of pending drain operations",
			},
		),
		queueDepthMax: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "bbdrain_queue_depth_max",
				Help: "Highest queue depth observed by the drain worker",
			},
		),
	}
}

// ObserveOperation records a dispatched operation.
func (c *Collector) ObserveOperation(kind engine.OpKind, outcome engine.Outcome, elapsed time.Duration) {
	c.operationsTotal.WithLabelValues(kind.String(), outcome.String()).Inc()
	c.operationDuration.WithLabelValues(kind.String()).Observe(float64(elapsed.Microseconds()) / 1000)
}

// ObserveBytes records one accessor transfer.
func (c *Collector) ObserveBytes(dir engine.Direction, tasked, succeeded int64) {
	c.bytesTasked.WithLabelValues(string(dir)).Add(float64(tasked))
	c.bytesSucceeded.WithLabelValues(string(dir)).Add(float64(succeeded))
}

// ObserveQueueDepth records the current queue depth. It is only called from
// the drain worker, so the peak needs no locking.
func (c *Collector) ObserveQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
	if depth > c.maxDepth {
		c.maxDepth = depth
		c.queueDepthMax.Set(float64(depth))
	}
}
