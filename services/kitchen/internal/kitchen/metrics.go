package kitchen

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the fulfillment engine. Each
// instance owns its registry so several engines can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	recalls          *prometheus.CounterVec
	broadcasts       prometheus.Counter
	broadcastDropped *prometheus.CounterVec
	subscribers      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_item_transitions_total",
			Help: "Applied item status transitions",
		}, []string{"from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_item_conflicts_total",
			Help: "Compare-and-set races lost by a command",
		}, []string{"operation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_item_rejections_total",
			Help: "Commands rejected by state machine rules",
		}, []string{"operation", "reason"}),
		recalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_item_recalls_total",
			Help: "Recall attempts by outcome",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitchen_broadcast_events_total",
			Help: "Events accepted by the broadcaster",
		}),
		broadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_broadcast_dropped_total",
			Help: "Events dropped before reaching a subscriber or the broker",
		}, []string{"reason"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kitchen_broadcast_subscribers",
			Help: "Currently connected display subscriptions",
		}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.conflicts,
		m.rejections,
		m.recalls,
		m.broadcasts,
		m.broadcastDropped,
		m.subscribers,
	)

	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordTransition(from, to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.Code(), to.Code()).Inc()
}

func (m *Metrics) RecordConflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordRejection(operation, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) RecordRecall(outcome string) {
	if m == nil {
		return
	}
	m.recalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.broadcastDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
