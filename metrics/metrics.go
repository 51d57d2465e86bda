// Package metrics exposes Prometheus counters for bridge traffic.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mcpbridge"

// Metrics holds the bridge's counters.
type Metrics struct {
	sent             prometheus.Counter
	received         prometheus.Counter
	discarded        *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	heartbeats       prometheus.Counter
}

// New creates the counters and registers them on reg.
// A nil reg skips registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes handed to the channel for transmission, heartbeats excluded.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Inbound envelopes accepted and delivered to the protocol layer.",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_discarded_total",
			Help:      "Inbound messages dropped before the protocol layer, by reason.",
		}, []string{"reason"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Transmissions the channel reported as failed.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat pings emitted.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.sent, m.received, m.discarded, m.deliveryFailures, m.heartbeats} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is like New but panics if registration fails.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// EnvelopeSent counts an outbound envelope.
func (m *Metrics) EnvelopeSent() {
	if m == nil {
		return
	}
	m.sent.Inc()
}

// EnvelopeReceived counts an accepted inbound envelope.
func (m *Metrics) EnvelopeReceived() {
	if m == nil {
		return
	}
	m.received.Inc()
}

// Discarded counts a dropped inbound message.
func (m *Metrics) Discarded(reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(reason).Inc()
}

// DeliveryFailed counts a failed transmission.
func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// Heartbeat counts an emitted ping.
func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}
