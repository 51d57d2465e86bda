package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/heartbeat"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/metrics"
	"github.com/vinayprograms/mcpbridge/session"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// Channel is the medium a Transport listens and transmits on.
type Channel interface {
	// Listen registers handler for raw inbound messages. Invocations are
	// sequential and in channel order.
	Listen(handler func(data []byte)) error

	// Transmit hands data to the medium without waiting for the peer.
	// A failed transmission is reported to onError exactly once.
	Transmit(data []byte, onError func(error))

	// Close stops listening and transmitting.
	Close() error
}

// MessageExtra carries envelope metadata alongside an inbound message.
type MessageExtra struct {
	// SessionID is the sender's session.
	SessionID session.ID

	// Source is the sender's kind tag.
	Source Kind
}

// Config holds transport configuration.
type Config struct {
	// Kind tags outbound envelopes and drives the echo filter.
	// Default: KindServer
	Kind Kind

	// Filter selects how self-echo is recognised.
	// Default: FilterKind
	Filter FilterPolicy

	// HeartbeatInterval between pings.
	// Default: 1 second
	HeartbeatInterval time.Duration

	// ChannelName labels the medium in logs and spans.
	ChannelName string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:              KindServer,
		Filter:            FilterKind,
		HeartbeatInterval: heartbeat.DefaultInterval,
	}
}

// emptyParams is the heartbeat payload.
var emptyParams = json.RawMessage("{}")

// Transport carries protocol messages over a Channel. Sending is
// fire-and-forget: delivery failures surface only through OnError.
type Transport struct {
	ch      Channel
	cfg     Config
	codec   *Codec
	session session.ID
	emitter *heartbeat.Emitter
	loop    *eventLoop

	logger  *logging.Logger
	metrics *metrics.Metrics
	monitor *heartbeat.Monitor
	tracer  *telemetry.Tracer

	mu        sync.RWMutex
	onMessage func(msg *Message, extra MessageExtra)
	onError   func(err error)
	onClose   func()

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a transport on ch. The session is minted and the heartbeat
// starts here; inbound traffic is ignored until Start.
func New(ch Channel, cfg Config, opts ...Option) *Transport {
	def := DefaultConfig()
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}

	t := &Transport{
		ch:      ch,
		cfg:     cfg,
		session: session.New(),
		logger:  logging.Nop(),
		tracer:  telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.codec = NewCodec(cfg.Kind, t.session, cfg.Filter)
	t.loop = newEventLoop(t.recovered)
	t.emitter = heartbeat.NewEmitter(cfg.HeartbeatInterval, t.beat)
	t.emitter.Start()

	return t
}

// SessionID returns the transport's session.
func (t *Transport) SessionID() session.ID {
	return t.session
}

// Config returns the effective configuration.
func (t *Transport) Config() Config {
	return t.cfg
}

// OnMessage registers the callback for accepted inbound messages.
func (t *Transport) OnMessage(fn func(msg *Message, extra MessageExtra)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// OnError registers the callback for delivery failures and callback panics.
func (t *Transport) OnError(fn func(err error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

// OnClose registers the callback invoked once the transport closes.
func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// Start registers the inbound listener. It returns once registration is
// done; delivery happens asynchronously. Calling Start again is a no-op.
func (t *Transport) Start(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "start transport")
		}
	}
	if t.closed.Load() {
		return errors.Closed("transport", errors.WithSession(t.session.String()))
	}
	if t.started.Swap(true) {
		return nil
	}

	if err := t.ch.Listen(t.receive); err != nil {
		t.started.Store(false)
		return errors.Wrap(err, "listen", errors.WithSession(t.session.String()))
	}

	t.logger.TransportStarted(string(t.cfg.Kind), t.cfg.ChannelName, t.session.String())
	return nil
}

// Send transmits msg. It returns nil for every non-nil message: the message
// is accepted for transmission, not delivered. Failures go to OnError.
func (t *Transport) Send(msg *Message) error {
	if msg == nil {
		return errors.InvalidInput("nil message")
	}

	_, span := t.tracer.StartSendSpan(context.Background(), msg.Method, t.session.String())
	spanOpts := telemetry.SendSpanOptions{
		Kind:    string(t.cfg.Kind),
		Channel: t.cfg.ChannelName,
		Params:  string(msg.Params),
	}

	if t.closed.Load() {
		t.logger.Debug("send_after_close", map[string]interface{}{"method": msg.Method})
		t.tracer.EndSendSpan(span, spanOpts, errors.Closed("transport"))
		return nil
	}

	data, err := t.codec.Encode(msg)
	if err != nil {
		encErr := errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "encode envelope",
			errors.WithSession(t.session.String()))
		t.tracer.EndSendSpan(span, spanOpts, encErr)
		t.reportError(encErr)
		return nil
	}

	t.logger.EnvelopeSent(msg.Method, t.session.String())
	t.metrics.EnvelopeSent()
	t.ch.Transmit(data, t.deliveryFailed)

	t.tracer.EndSendSpan(span, spanOpts, nil)
	return nil
}

// Close stops the heartbeat and the channel and invokes OnClose. Safe to
// call without Start and more than once; only the first call has effect.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.emitter.Stop()

		if err := t.ch.Close(); err != nil {
			t.logger.Debug("channel_close_failed", map[string]interface{}{"error": err.Error()})
		}
		t.logger.TransportClosed(t.session.String())

		t.loop.post(func() {
			t.mu.RLock()
			fn := t.onClose
			t.mu.RUnlock()
			if fn != nil {
				fn()
			}
		})
		t.loop.stop()
	})
	return nil
}

// beat emits one heartbeat. Heartbeats are not logged.
func (t *Transport) beat() {
	if t.closed.Load() {
		return
	}
	data, err := t.codec.EncodeCall(PingMethod, emptyParams)
	if err != nil {
		return
	}
	t.metrics.Heartbeat()
	t.ch.Transmit(data, t.deliveryFailed)
}

// receive runs on the channel's delivery goroutine.
func (t *Transport) receive(data []byte) {
	if t.closed.Load() {
		return
	}

	in, verdict := t.codec.Decode(data)
	if verdict != Accept {
		t.metrics.Discarded(verdict.String())
		return
	}
	t.metrics.EnvelopeReceived()

	if in.Message.Method == PingMethod && t.monitor != nil {
		t.monitor.Observe(in.SessionID)
	} else {
		t.logger.EnvelopeReceived(in.Message.Method, in.SessionID.String())
	}

	extra := MessageExtra{SessionID: in.SessionID, Source: in.Source}
	t.loop.post(func() {
		t.mu.RLock()
		fn := t.onMessage
		t.mu.RUnlock()
		if fn != nil {
			fn(in.Message, extra)
		}
	})
}

// deliveryFailed is the onError hook handed to the channel.
func (t *Transport) deliveryFailed(err error) {
	peer := ""
	if be, ok := errors.AsBridgeError(err).(*errors.Error); ok {
		peer = be.Peer()
	}
	t.logger.DeliveryFailed(peer, err)
	t.metrics.DeliveryFailed()
	t.reportError(errors.Wrap(err, "deliver envelope", errors.WithSession(t.session.String())))
}

func (t *Transport) reportError(err error) {
	t.loop.post(func() {
		t.mu.RLock()
		fn := t.onError
		t.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	})
}

// recovered handles a panic raised by a user callback.
func (t *Transport) recovered(err *errors.Error) {
	t.logger.Error("callback_panic", map[string]interface{}{
		"error":   err.Error(),
		"session": t.session.String(),
	})
	t.mu.RLock()
	fn := t.onError
	t.mu.RUnlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("error_callback_panic", map[string]interface{}{"panic": errors.RecoverPanic(r).Error()})
		}
	}()
	fn(err)
}
