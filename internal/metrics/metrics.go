// Package metrics exposes Prometheus collectors for the dispatch core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhongdj/reactiveservices/internal/aggregator"
)

// Metrics bundles the node's collectors. One instance serves every
// aggregator and the WebSocket edge; per-consumer gauges would leak series on
// connection churn, so cardinality stays at the node level.
type Metrics struct {
	registry *prometheus.Registry

	eventsDispatched *prometheus.CounterVec
	coalesced        prometheus.Counter
	dropped          prometheus.Counter
	connections      prometheus.Gauge
	subscriptions    prometheus.Gauge
	signals          prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rs_events_dispatched_total",
			Help: "Consumer-bound events dispatched, by kind.",
		}, []string{"kind"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rs_transitions_coalesced_total",
			Help: "Pending updates superseded before dispatch.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rs_transitions_dropped_total",
			Help: "Inapplicable deltas dropped pending an upstream reset.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rs_consumer_connections",
			Help: "Open consumer connections.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rs_open_subscriptions",
			Help: "Open subscriptions across all consumers.",
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rs_signals_total",
			Help: "Signals accepted from consumers.",
		}),
	}
	reg.MustRegister(m.eventsDispatched, m.coalesced, m.dropped, m.connections, m.subscriptions, m.signals)
	return m
}

// Registry returns the underlying Prometheus registry for the admin server.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ConnectionOpened bumps the connection gauge.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

// ConnectionClosed drops the connection gauge.
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// SignalAccepted counts an inbound signal.
func (m *Metrics) SignalAccepted() { m.signals.Inc() }

// AggregatorHook adapts the node metrics to one aggregator's hook. The
// subscription delta tracks this aggregator's contribution to the node
// gauge.
type AggregatorHook struct {
	m    *Metrics
	open int
}

// ForAggregator builds a hook for one aggregator instance.
func (m *Metrics) ForAggregator() *AggregatorHook { return &AggregatorHook{m: m} }

var _ aggregator.MetricsHook = (*AggregatorHook)(nil)

// EventDispatched counts one consumer-bound event.
func (h *AggregatorHook) EventDispatched(kind aggregator.EventKind) {
	h.m.eventsDispatched.WithLabelValues(kindLabel(kind)).Inc()
}

// TransitionCoalesced counts a superseded pending update.
func (h *AggregatorHook) TransitionCoalesced() { h.m.coalesced.Inc() }

// TransitionDropped counts a dropped inapplicable delta.
func (h *AggregatorHook) TransitionDropped() { h.m.dropped.Inc() }

// DemandChanged is a no-op at node granularity.
func (h *AggregatorHook) DemandChanged(int) {}

// SubscriptionsChanged folds this aggregator's count into the node gauge.
func (h *AggregatorHook) SubscriptionsChanged(n int) {
	h.m.subscriptions.Add(float64(n - h.open))
	h.open = n
}

// Detach returns the hook's remaining contribution to the gauges, called
// when the consumer disconnects.
func (h *AggregatorHook) Detach() {
	h.m.subscriptions.Add(float64(-h.open))
	h.open = 0
}

func kindLabel(kind aggregator.EventKind) string {
	switch kind {
	case aggregator.EventSnapshot:
		return "snapshot"
	case aggregator.EventTransition:
		return "transition"
	case aggregator.EventClosed:
		return "closed"
	case aggregator.EventNotAvailable:
		return "not_available"
	case aggregator.EventInvalid:
		return "invalid"
	case aggregator.EventSignalAckOk:
		return "ack_ok"
	case aggregator.EventSignalAckFailed:
		return "ack_failed"
	default:
		return "unknown"
	}
}
