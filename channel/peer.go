package channel

import (
	"sync"
	"time"

	"github.com/vinayprograms/mcpbridge/bus"
	bridgeerrors "github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
)

// DefaultPeerID is the fixed address of the privileged peer.
const DefaultPeerID = "iegmbfhabdlajoplgfiaamjmknnniiob"

// InboxPrefix prefixes every peer inbox subject.
const InboxPrefix = "runtime."

// ackPayload answers every request a Peer channel receives.
var ackPayload = []byte(`{"received":true}`)

// PeerConfig configures a point-to-point channel.
type PeerConfig struct {
	// ListenID names this side's inbox (runtime.<ListenID>).
	// Default: "mcp-server"
	ListenID string

	// PeerID names the remote inbox transmissions are addressed to.
	// Default: DefaultPeerID
	PeerID string

	// AckTimeout bounds the wait for the peer to acknowledge.
	// Default: 2 seconds
	AckTimeout time.Duration

	// QueueSize is the outbound queue depth.
	// Default: 256
	QueueSize int

	// Logger receives acknowledgement failures.
	// Default: logging.Nop()
	Logger *logging.Logger
}

// DefaultPeerConfig returns configuration with sensible defaults.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		ListenID:   "mcp-server",
		PeerID:     DefaultPeerID,
		AckTimeout: 2 * time.Second,
		QueueSize:  DefaultQueueSize,
		Logger:     logging.Nop(),
	}
}

// InboxSubject returns the inbox subject for id.
func InboxSubject(id string) string {
	return InboxPrefix + id
}

// Peer is a cross-boundary channel. It never loops back to the sender.
type Peer struct {
	bus bus.MessageBus
	cfg PeerConfig
	out *sendQueue

	mu     sync.Mutex
	sub    bus.Subscription
	done   chan struct{}
	closed bool
}

// NewPeer creates a peer channel. Zero config fields take defaults.
func NewPeer(b bus.MessageBus, cfg PeerConfig) *Peer {
	def := DefaultPeerConfig()
	if cfg.ListenID == "" {
		cfg.ListenID = def.ListenID
	}
	if cfg.PeerID == "" {
		cfg.PeerID = def.PeerID
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	p := &Peer{
		bus:  b,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	p.out = newSendQueue(cfg.QueueSize, cfg.PeerID, p.request)
	return p
}

// PeerID returns the address transmissions go to.
func (p *Peer) PeerID() string {
	return p.cfg.PeerID
}

// Listen subscribes to this side's inbox. Each request is acknowledged
// before the handler sees it.
func (p *Peer) Listen(handler func(data []byte)) error {
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return bridgeerrors.Closed("peer channel")
	}
	if p.sub != nil {
		return ErrAlreadyListening
	}

	subject := InboxSubject(p.cfg.ListenID)
	sub, err := p.bus.Subscribe(subject)
	if err != nil {
		return bridgeerrors.WrapWithCode(err, bridgeerrors.ErrCodeNetworkErr, "subscribe "+subject)
	}
	p.sub = sub

	go p.deliver(sub, handler)
	return nil
}

func (p *Peer) deliver(sub bus.Subscription, handler func([]byte)) {
	for {
		select {
		case <-p.done:
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if msg.Reply != "" {
				if err := p.bus.Publish(msg.Reply, ackPayload); err != nil {
					p.cfg.Logger.AckFailed(msg.Reply, err)
				}
			}
			handler(msg.Data)
		}
	}
}

// Transmit queues data for the peer. An absent peer is reported to onError
// as UNAVAILABLE.
func (p *Peer) Transmit(data []byte, onError func(error)) {
	p.out.push(data, onError)
}

func (p *Peer) request(data []byte) error {
	_, err := p.bus.Request(InboxSubject(p.cfg.PeerID), data, p.cfg.AckTimeout)
	if err != nil {
		return busError(p.cfg.PeerID, err)
	}
	return nil
}

// Close stops listening and transmitting. Queued data is dropped.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	sub := p.sub
	p.mu.Unlock()

	p.out.close()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}
