package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes relay and coordinator metrics. A nil collector
// is valid everywhere and records nothing, so tests never fight over the
// global prometheus registry.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter

	messagesRouted  *prometheus.CounterVec
	messagesDropped prometheus.Counter
	routingErrors   prometheus.Counter

	rollsIssued  prometheus.Counter
	rollOutcomes *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "heartlink_signal_connections_active",
			Help: "Number of currently registered signaling connections",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "heartlink_signal_connections_total",
			Help: "Total number of signaling connections accepted",
		}),

		messagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heartlink_signal_messages_routed_total",
			Help: "Messages forwarded by the relay, by envelope type",
		}, []string{"type"}),

		messagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "heartlink_signal_messages_dropped_total",
			Help: "Malformed or unknown messages dropped at the relay boundary",
		}),

		routingErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "heartlink_signal_routing_errors_total",
			Help: "Routing attempts that failed because the target was unreachable",
		}),

		rollsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "heartlink_rolls_issued_total",
			Help: "Speed rolls successfully issued",
		}),

		rollOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heartlink_roll_outcomes_total",
			Help: "Terminal speed roll outcomes",
		}, []string{"outcome"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	if p == nil {
		return
	}
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	if p == nil {
		return
	}
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) MessageRouted(messageType string) {
	if p == nil {
		return
	}
	p.messagesRouted.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) MessageDropped() {
	if p == nil {
		return
	}
	p.messagesDropped.Inc()
}

func (p *PrometheusCollector) RoutingError() {
	if p == nil {
		return
	}
	p.routingErrors.Inc()
}

func (p *PrometheusCollector) RollIssued() {
	if p == nil {
		return
	}
	p.rollsIssued.Inc()
}

func (p *PrometheusCollector) RollOutcome(outcome string) {
	if p == nil {
		return
	}
	p.rollOutcomes.WithLabelValues(outcome).Inc()
}
