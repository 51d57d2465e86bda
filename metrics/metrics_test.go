package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	m.EnvelopeSent()
	m.EnvelopeSent()
	m.EnvelopeReceived()
	m.Discarded("echo")
	m.Discarded("echo")
	m.Discarded("foreign")
	m.DeliveryFailed()
	m.Heartbeat()

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"sent", m.sent, 2},
		{"received", m.received, 1},
		{"echo", m.discarded.WithLabelValues("echo"), 2},
		{"foreign", m.discarded.WithLabelValues("foreign"), 1},
		{"delivery failures", m.deliveryFailures, 1},
		{"heartbeats", m.heartbeats, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMetrics_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)
	m.Discarded("malformed")

	expected := `
# HELP mcpbridge_envelopes_discarded_total Inbound messages dropped before the protocol layer, by reason.
# TYPE mcpbridge_envelopes_discarded_total counter
mcpbridge_envelopes_discarded_total{reason="malformed"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "mcpbridge_envelopes_discarded_total"); err != nil {
		t.Error(err)
	}
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New error: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second registration on the same registry should fail")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.EnvelopeSent()
	m.EnvelopeReceived()
	m.Discarded("echo")
	m.DeliveryFailed()
	m.Heartbeat()
}

func TestMetrics_NilRegisterer(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	m.Heartbeat()
	if got := testutil.ToFloat64(m.heartbeats); got != 1 {
		t.Errorf("heartbeats = %v, want 1", got)
	}
}
