package transport

import (
	"github.com/vinayprograms/mcpbridge/heartbeat"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/metrics"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l.WithComponent("transport")
		}
	}
}

// WithMetrics records traffic counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithMonitor feeds inbound heartbeats to m, keyed by the sender's session.
func WithMonitor(m *heartbeat.Monitor) Option {
	return func(t *Transport) {
		t.monitor = m
	}
}

// WithTracer sets the tracer for send spans. Default: the global tracer.
func WithTracer(tr *telemetry.Tracer) Option {
	return func(t *Transport) {
		if tr != nil {
			t.tracer = tr
		}
	}
}
