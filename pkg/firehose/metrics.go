package firehose

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the delivery counters exported by every batcher.
type Metrics struct {
	Batches   *prometheus.CounterVec
	Items     prometheus.Counter
	Retries   prometheus.Counter
	BatchSize prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hull",
			Subsystem: "firehose",
			Name:      "batches_total",
			Help:      "Batches flushed, by outcome.",
		}, []string{"outcome"}),
		Items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hull",
			Subsystem: "firehose",
			Name:      "items_sent_total",
			Help:      "Items delivered in successful batches.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hull",
			Subsystem: "firehose",
			Name:      "retries_total",
			Help:      "Batch send retries after a transient failure.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hull",
			Subsystem: "firehose",
			Name:      "batch_size",
			Help:      "Number of items per flushed batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Batches, m.Items, m.Retries, m.BatchSize)
	}
	return m
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
})

// DefaultMetrics returns the collectors registered with the default
// Prometheus registry.
func DefaultMetrics() *Metrics { return defaultMetrics() }
