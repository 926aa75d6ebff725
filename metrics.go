package signalr

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "signalr_client"

// clientMetrics are always present. Without a registry they are simply not exported.
type clientMetrics struct {
	invocations        prometheus.Counter
	invocationFailures prometheus.Counter
	pendingInvocations prometheus.Gauge
	messagesReceived   *prometheus.CounterVec
	dispatched         *prometheus.CounterVec
	disconnects        *prometheus.CounterVec
}

// newClientMetrics creates the client metrics and registers them at registry.
// A nil registry creates unregistered metrics.
// Clients sharing a registry and const labels share their metrics.
func newClientMetrics(registry prometheus.Registerer, constLabels prometheus.Labels) (*clientMetrics, error) {
	m := &clientMetrics{
		invocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "invocations_total",
			Help:        "Total number of invocations sent to the server.",
			ConstLabels: constLabels,
		}),
		invocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "invocation_failures_total",
			Help:        "Total number of invocations which failed to send or were answered with an error.",
			ConstLabels: constLabels,
		}),
		pendingInvocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "pending_invocations",
			Help:        "Number of invocations waiting for their completion.",
			ConstLabels: constLabels,
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "messages_received_total",
			Help:        "Total number of hub messages received, by message kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "dispatched_total",
			Help:        "Total number of server-initiated invocations, by result (handled, unhandled, failed).",
			ConstLabels: constLabels,
		}, []string{"result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "disconnects_total",
			Help:        "Total number of disconnects, by reason (client, server, error).",
			ConstLabels: constLabels,
		}, []string{"reason"}),
	}
	if registry == nil {
		return m, nil
	}
	var err error
	if m.invocations, err = registerCollector(registry, m.invocations); err != nil {
		return nil, err
	}
	if m.invocationFailures, err = registerCollector(registry, m.invocationFailures); err != nil {
		return nil, err
	}
	if m.pendingInvocations, err = registerCollector(registry, m.pendingInvocations); err != nil {
		return nil, err
	}
	if m.messagesReceived, err = registerCollector(registry, m.messagesReceived); err != nil {
		return nil, err
	}
	if m.dispatched, err = registerCollector(registry, m.dispatched); err != nil {
		return nil, err
	}
	if m.disconnects, err = registerCollector(registry, m.disconnects); err != nil {
		return nil, err
	}
	return m, nil
}

// registerCollector registers collector at registry. If an equal collector is already
// registered, the existing one is returned instead.
func registerCollector[C prometheus.Collector](registry prometheus.Registerer, collector C) (C, error) {
	err := registry.Register(collector)
	if err == nil {
		return collector, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return collector, err
}

// WithMetrics registers the client metrics at registry.
// Several clients may use the same registry, with equal const labels they share their metrics.
func WithMetrics(registry prometheus.Registerer, constLabels prometheus.Labels) func(*client) error {
	return func(c *client) error {
		if registry == nil {
			return &ConfigError{Message: "metrics registry must not be nil"}
		}
		c.metricsRegistry = registry
		c.metricsLabels = constLabels
		return nil
	}
}
