package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"trustescrow/core/events"
)

// EventMetrics counts committed notifications by type. It implements
// events.Emitter so it can sit alongside other subscribers.
type EventMetrics struct {
	notifications *prometheus.CounterVec
	head          prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the notification metrics registered with the default
// Prometheus registry.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = NewEventMetrics(prometheus.DefaultRegisterer)
	})
	return eventRegistry
}

// NewEventMetrics builds the collectors and registers them with reg.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Committed notifications segmented by event type.",
		}, []string{"type"}),
		head: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Subsystem: "events",
			Name:      "journal_head",
			Help:      "Sequence number of the most recently emitted notification.",
		}),
	}
	reg.MustRegister(m.notifications, m.head)
	return m
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.notifications.WithLabelValues(evt.EventType()).Inc()
	if record, ok := evt.(events.Record); ok {
		m.head.Set(float64(record.Sequence))
	}
}

var _ events.Emitter = (*EventMetrics)(nil)
