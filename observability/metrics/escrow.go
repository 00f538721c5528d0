package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trustescrow/native/escrow"
)

// EscrowMetrics records escrow engine activity. It implements escrow.Metrics.
type EscrowMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	resolutions *prometheus.CounterVec
	reputation  prometheus.Histogram
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the lazily-initialised escrow metrics registered with the
// default Prometheus registry.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = NewEscrowMetrics(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

// NewEscrowMetrics builds the collectors and registers them with reg.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	m := &EscrowMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "operations_total",
			Help:      "Escrow operations segmented by operation and result code.",
		}, []string{"operation", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for escrow operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "dispute_resolutions_total",
			Help:      "Automatically resolved disputes by outcome and reputation validity.",
		}, []string{"outcome", "valid"}),
		reputation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "dispute_reputation",
			Help:      "Merchant reputation observed when resolving disputes.",
			Buckets:   prometheus.LinearBuckets(0, 10, 13),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.resolutions, m.reputation)
	}
	return m
}

// ObserveOperation implements escrow.Metrics.
func (m *EscrowMetrics) ObserveOperation(operation, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, code).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveResolution implements escrow.Metrics.
func (m *EscrowMetrics) ObserveResolution(outcome escrow.Outcome, reputation uint64, valid bool) {
	if m == nil {
		return
	}
	validity := "false"
	if valid {
		validity = "true"
	}
	m.resolutions.WithLabelValues(string(outcome), validity).Inc()
	m.reputation.Observe(float64(reputation))
}

var _ escrow.Metrics = (*EscrowMetrics)(nil)
