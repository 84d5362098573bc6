package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the notification subsystem.
// A nil *Metrics is valid and records nothing, which keeps tests free of
// collector registration conflicts.
type Metrics struct {
	connections        prometheus.Gauge
	eventsPublished    *prometheus.CounterVec
	deliveryFailures   prometheus.Counter
	livenessEvictions  prometheus.Counter
	admissionsRejected *prometheus.CounterVec
}

// New registers the subsystem's collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "visa_manager",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Number of currently registered WebSocket connections.",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visa_manager",
			Subsystem: "ws",
			Name:      "events_published_total",
			Help:      "Events published to the router, by event type.",
		}, []string{"type"}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "visa_manager",
			Subsystem: "ws",
			Name:      "delivery_failures_total",
			Help:      "Per-recipient delivery failures during fan-out.",
		}),
		livenessEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "visa_manager",
			Subsystem: "ws",
			Name:      "liveness_evictions_total",
			Help:      "Connections evicted by the liveness supervisor.",
		}),
		admissionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visa_manager",
			Subsystem: "ws",
			Name:      "admissions_rejected_total",
			Help:      "Connection attempts refused before registration, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) ConnectionEvicted() {
	if m == nil {
		return
	}
	m.livenessEvictions.Inc()
}

func (m *Metrics) AdmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.admissionsRejected.WithLabelValues(reason).Inc()
}
