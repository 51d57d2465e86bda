package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/mcpbridge/bus"
	"github.com/vinayprograms/mcpbridge/channel"
	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/heartbeat"
	"github.com/vinayprograms/mcpbridge/metrics"
	"github.com/vinayprograms/mcpbridge/session"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// fakeChannel records transmissions and lets tests inject inbound data.
type fakeChannel struct {
	mu      sync.Mutex
	handler func([]byte)
	listens int
	closes  int
	sent    [][]byte
	sentCh  chan []byte
	fail    error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sentCh: make(chan []byte, 256)}
}

func (c *fakeChannel) Listen(handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	c.listens++
	return nil
}

func (c *fakeChannel) Transmit(data []byte, onError func(error)) {
	c.mu.Lock()
	c.sent = append(c.sent, data)
	fail := c.fail
	c.mu.Unlock()

	select {
	case c.sentCh <- data:
	default:
	}
	if fail != nil && onError != nil {
		onError(fail)
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

// inject delivers data as if it arrived on the medium.
func (c *fakeChannel) inject(data string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h([]byte(data))
	}
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// quiet disables the heartbeat for tests that count transmissions.
func quiet() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Kind != KindServer {
		t.Errorf("Kind = %q", cfg.Kind)
	}
	if cfg.Filter != FilterKind {
		t.Errorf("Filter = %v", cfg.Filter)
	}
	if cfg.HeartbeatInterval != time.Second {
		t.Errorf("HeartbeatInterval = %v, want 1s", cfg.HeartbeatInterval)
	}
}

func TestTransport_SessionID(t *testing.T) {
	seen := make(map[session.ID]bool)
	for i := 0; i < 100; i++ {
		tr := New(newFakeChannel(), quiet())
		id := tr.SessionID()
		if !id.Valid() {
			t.Fatalf("SessionID %q is not a v4 uuid", id)
		}
		if seen[id] {
			t.Fatalf("duplicate session %q", id)
		}
		seen[id] = true
		if tr.SessionID() != id {
			t.Fatal("SessionID changed between calls")
		}
		tr.Close()
	}
}

func TestTransport_NoTrafficBeforeStart(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())
	defer tr.Close()

	if ch.listens != 0 {
		t.Fatal("Listen called before Start")
	}

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Errorf("second Start error: %v", err)
	}
	if ch.listens != 1 {
		t.Errorf("listens = %d, want 1", ch.listens)
	}
}

func TestTransport_StartCanceledContext(t *testing.T) {
	tr := New(newFakeChannel(), quiet())
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Start(ctx); !errors.Is(err, errors.ErrCodeCanceled) {
		t.Errorf("Start error = %v, want CANCELED", err)
	}
}

func TestTransport_StartAfterClose(t *testing.T) {
	tr := New(newFakeChannel(), quiet())
	tr.Close()
	if err := tr.Start(context.Background()); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("Start after Close = %v, want CLOSED", err)
	}
}

func TestTransport_SendRouting(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())
	defer tr.Close()

	req, _ := NewRequest(1, "tools/call", map[string]string{"name": "update_greeting"})
	res, _ := NewResult(json.RawMessage(`1`), map[string]bool{"ok": true})

	if err := tr.Send(req); err != nil {
		t.Fatalf("Send(request) error: %v", err)
	}
	if err := tr.Send(res); err != nil {
		t.Fatalf("Send(response) error: %v", err)
	}

	var first, second map[string]json.RawMessage
	json.Unmarshal(<-ch.sentCh, &first)
	json.Unmarshal(<-ch.sentCh, &second)

	if string(first["method"]) != `"mcp:tools/call"` {
		t.Errorf("request method = %s", first["method"])
	}
	if _, ok := second["method"]; ok {
		t.Error("response must travel without a method")
	}
	for _, env := range []map[string]json.RawMessage{first, second} {
		if string(env["mcpSessionId"]) != `"`+tr.SessionID().String()+`"` {
			t.Errorf("mcpSessionId = %s", env["mcpSessionId"])
		}
		if string(env["source"]) != `"mcp-server"` {
			t.Errorf("source = %s", env["source"])
		}
	}
}

func TestTransport_SendNil(t *testing.T) {
	tr := New(newFakeChannel(), quiet())
	defer tr.Close()

	if err := tr.Send(nil); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Send(nil) = %v, want INVALID_INPUT", err)
	}
}

func TestTransport_SendAfterClose(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())
	tr.Close()

	msg, _ := NewNotification("update_greeting", nil)
	if err := tr.Send(msg); err != nil {
		t.Errorf("Send after Close = %v, want nil", err)
	}
	if ch.sentCount() != 0 {
		t.Errorf("transmitted %d envelopes after Close", ch.sentCount())
	}
}

func TestTransport_EncodeFailureReported(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())
	defer tr.Close()

	errCh := make(chan error, 1)
	tr.OnError(func(err error) { errCh <- err })

	bad := &Message{Method: "x", Params: json.RawMessage(`{broken`)}
	if err := tr.Send(bad); err != nil {
		t.Fatalf("Send = %v, want nil", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrCodeInvalidInput) {
			t.Errorf("error = %v, want INVALID_INPUT", err)
		}
	case <-time.After(time.Second):
		t.Fatal("encode failure was not reported")
	}
	if ch.sentCount() != 0 {
		t.Error("unencodable message was transmitted")
	}
}

func TestTransport_InboundOrderAndExtra(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())
	defer tr.Close()

	got := make(chan string, 16)
	var extra MessageExtra
	tr.OnMessage(func(msg *Message, ex MessageExtra) {
		extra = ex
		got <- msg.Method
	})
	tr.Start(context.Background())

	want := []string{"a", "b", "c", "d", "e"}
	for _, m := range want {
		ch.inject(`{"method":"mcp:` + m + `","source":"ext","mcpSessionId":"peer-1"}`)
	}

	for i, m := range want {
		select {
		case method := <-got:
			if method != m {
				t.Fatalf("message %d = %q, want %q", i, method, m)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
	if extra.SessionID != "peer-1" || extra.Source != "ext" {
		t.Errorf("extra = %+v", extra)
	}
}

func TestTransport_ForeignObjectDiscarded(t *testing.T) {
	ch := newFakeChannel()
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)

	tr := New(ch, quiet(), WithMetrics(m))
	defer tr.Close()

	got := make(chan string, 4)
	tr.OnMessage(func(msg *Message, _ MessageExtra) { got <- msg.Method })
	tr.Start(context.Background())

	ch.inject(`{"foo":"bar"}`)
	ch.inject(`not json`)
	ch.inject(`{"method":"mcp:after","source":"ext"}`)

	select {
	case method := <-got:
		if method != "after" {
			t.Errorf("first delivered message = %q, want after", method)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	expected := `
# HELP mcpbridge_envelopes_discarded_total Inbound messages dropped before the protocol layer, by reason.
# TYPE mcpbridge_envelopes_discarded_total counter
mcpbridge_envelopes_discarded_total{reason="foreign"} 1
mcpbridge_envelopes_discarded_total{reason="malformed"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "mcpbridge_envelopes_discarded_total"); err != nil {
		t.Error(err)
	}
}

func TestTransport_HeartbeatTiming(t *testing.T) {
	ch := newFakeChannel()
	interval := 40 * time.Millisecond

	start := time.Now()
	tr := New(ch, Config{HeartbeatInterval: interval})

	select {
	case data := <-ch.sentCh:
		if elapsed := time.Since(start); elapsed > interval*3/2 {
			t.Errorf("first heartbeat after %v, want <= %v", elapsed, interval*3/2)
		}
		var env Envelope
		json.Unmarshal(data, &env)
		if env.Method != "mcp:ping" || string(env.Params) != "{}" {
			t.Errorf("heartbeat = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("heartbeat never fired")
	}

	tr.Close()
	after := ch.sentCount()
	time.Sleep(3 * interval)
	if got := ch.sentCount(); got != after {
		t.Errorf("heartbeats after Close: %d -> %d", after, got)
	}
}

func TestTransport_HeartbeatSurvivesFailures(t *testing.T) {
	ch := newFakeChannel()
	ch.fail = errors.PeerUnavailable("ext", nil)

	tr := New(ch, Config{HeartbeatInterval: 10 * time.Millisecond})
	defer tr.Close()

	var failures atomic.Int32
	tr.OnError(func(error) { failures.Add(1) })

	deadline := time.After(time.Second)
	for ch.sentCount() < 4 {
		select {
		case <-deadline:
			t.Fatalf("heartbeats = %d, want 4", ch.sentCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if failures.Load() == 0 {
		t.Error("expected failures to be reported")
	}
}

func TestTransport_CloseTwice(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())

	var closes atomic.Int32
	closed := make(chan struct{}, 4)
	tr.OnClose(func() {
		closes.Add(1)
		closed <- struct{}{}
	})

	if err := tr.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClose not invoked")
	}
	time.Sleep(20 * time.Millisecond)

	if n := closes.Load(); n != 1 {
		t.Errorf("OnClose invoked %d times, want 1", n)
	}
	if ch.closes != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closes)
	}
}

func TestTransport_CloseFromCallback(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())

	closed := make(chan struct{})
	tr.OnClose(func() { close(closed) })
	tr.OnMessage(func(*Message, MessageExtra) { tr.Close() })
	tr.Start(context.Background())

	ch.inject(`{"method":"mcp:shutdown","source":"ext"}`)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close from a callback did not complete")
	}
}

func TestTransport_CallbackPanicReported(t *testing.T) {
	ch := newFakeChannel()
	tr := New(ch, quiet())
	defer tr.Close()

	errCh := make(chan error, 1)
	tr.OnError(func(err error) { errCh <- err })
	tr.OnMessage(func(*Message, MessageExtra) { panic("handler exploded") })
	tr.Start(context.Background())

	ch.inject(`{"method":"mcp:x","source":"ext"}`)

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrCodePanic) {
			t.Errorf("error = %v, want PANIC", err)
		}
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestTransport_SendSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	p, err := telemetry.NewProvider(exp, telemetry.ProviderConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}
	defer p.Shutdown(context.Background())

	tr := New(newFakeChannel(), quiet(), WithTracer(p.Tracer()))
	defer tr.Close()

	msg, _ := NewNotification("notifications/tools/list_changed", nil)
	tr.Send(msg)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "bridge.send" {
		t.Fatalf("spans = %v", spans)
	}
}

// --- Scenarios over a shared in-memory medium ---

func TestScenario_TwoInDocumentTransports(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	cfg := Config{HeartbeatInterval: 50 * time.Millisecond, Filter: FilterSession}
	a := New(channel.NewBroadcast(b, ""), cfg)
	bt := New(channel.NewBroadcast(b, ""), cfg)
	defer a.Close()
	defer bt.Close()

	var fromA, fromSelf atomic.Int32
	bt.OnMessage(func(msg *Message, extra MessageExtra) {
		if msg.Method != PingMethod {
			return
		}
		switch extra.SessionID {
		case a.SessionID():
			fromA.Add(1)
		case bt.SessionID():
			fromSelf.Add(1)
		}
	})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("A Start error: %v", err)
	}
	if err := bt.Start(context.Background()); err != nil {
		t.Fatalf("B Start error: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	deadline := time.After(time.Second)
	for fromA.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("B received %d heartbeats from A, want >= 3", fromA.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if n := fromSelf.Load(); n != 0 {
		t.Errorf("B received %d of its own heartbeats", n)
	}
}

func TestScenario_KindFilterSuppressesSiblings(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	cfg := Config{HeartbeatInterval: 20 * time.Millisecond}
	a := New(channel.NewBroadcast(b, ""), cfg)
	bt := New(channel.NewBroadcast(b, ""), cfg)
	defer a.Close()
	defer bt.Close()

	var received atomic.Int32
	bt.OnMessage(func(*Message, MessageExtra) { received.Add(1) })
	a.Start(context.Background())
	bt.Start(context.Background())

	time.Sleep(120 * time.Millisecond)
	if n := received.Load(); n != 0 {
		t.Errorf("same-kind sibling delivered %d messages under the kind filter", n)
	}
}

func TestScenario_AbsentPeer(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	a := New(channel.NewPeer(b, channel.PeerConfig{PeerID: "absent-extension"}), quiet())
	defer a.Close()

	var messages, failures atomic.Int32
	errCh := make(chan error, 4)
	a.OnMessage(func(*Message, MessageExtra) { messages.Add(1) })
	a.OnError(func(err error) {
		failures.Add(1)
		errCh <- err
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	msg, _ := NewNotification("update_greeting", map[string]string{"greeting": "Hi", "name": "X"})
	if err := a.Send(msg); err != nil {
		t.Fatalf("Send = %v, want nil", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrCodeUnavailable) {
			t.Errorf("error = %v, want UNAVAILABLE", err)
		}
		if be, ok := errors.AsBridgeError(err).(*errors.Error); !ok || be.SessionID() != a.SessionID().String() {
			t.Errorf("error should carry the session, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("delivery failure was not reported")
	}

	time.Sleep(50 * time.Millisecond)
	if n := failures.Load(); n != 1 {
		t.Errorf("failures = %d, want exactly 1", n)
	}
	if n := messages.Load(); n != 0 {
		t.Errorf("OnMessage invoked %d times", n)
	}
}

func TestScenario_PeerPresence(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	mon, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}

	server := New(channel.NewPeer(b, channel.PeerConfig{ListenID: "mcp-server", PeerID: "ext"}),
		Config{HeartbeatInterval: 20 * time.Millisecond})
	ext := New(channel.NewPeer(b, channel.PeerConfig{ListenID: "ext", PeerID: "mcp-server"}),
		Config{Kind: "extension", HeartbeatInterval: time.Hour}, WithMonitor(mon))
	defer server.Close()
	defer ext.Close()

	alive := make(chan session.ID, 1)
	mon.OnAlive(func(id session.ID) {
		select {
		case alive <- id:
		default:
		}
	})
	ext.Start(context.Background())

	select {
	case id := <-alive:
		if id != server.SessionID() {
			t.Errorf("alive peer = %q, want %q", id, server.SessionID())
		}
	case <-time.After(time.Second):
		t.Fatal("monitor never saw the server's heartbeat")
	}
	if !mon.IsAlive(server.SessionID(), time.Second) {
		t.Error("server should be alive")
	}
}
