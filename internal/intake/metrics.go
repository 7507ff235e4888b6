package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes intake counters on the shared Prometheus registry.
type Metrics struct {
	Accepted  *prometheus.CounterVec
	Rejected  *prometheus.CounterVec
	Batches   prometheus.Counter
	BatchSize prometheus.Histogram
}

// NewMetrics registers the intake collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Accepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "intake",
			Name:      "events_accepted_total",
			Help:      "Events accepted into the durable buffer, by event type.",
		}, []string{"event_type"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "intake",
			Name:      "events_rejected_total",
			Help:      "Events rejected before buffering, by reason.",
		}, []string{"reason"}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "intake",
			Name:      "batches_total",
			Help:      "Batch submissions received.",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clr",
			Subsystem: "intake",
			Name:      "batch_size",
			Help:      "Events per batch submission.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// Rejection reason labels.
const (
	ReasonRateLimit  = "rate_limit"
	ReasonValidation = "validation"
	ReasonServer     = "server"
)
