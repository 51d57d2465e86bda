// Package channel provides the media a bridge transport listens and
// transmits on.
//
// Every variant satisfies the same contract: Listen registers a handler that
// is invoked sequentially, in channel order, for each raw inbound message;
// Transmit hands data to the medium without waiting for the peer and reports
// a failed transmission to onError exactly once; Close stops both directions.
//
// # Variants
//
//   - Broadcast: a shared subject on a message bus. Every listener, the
//     sender included, receives every message.
//   - Peer: a point-to-point inbox addressed by a fixed peer id. Absence of
//     the peer is detected with request/reply and reported as UNAVAILABLE.
//   - WebSocket: text frames over a gorilla/websocket connection.
package channel

import (
	"errors"

	"github.com/vinayprograms/mcpbridge/bus"
	bridgeerrors "github.com/vinayprograms/mcpbridge/errors"
)

// Common errors.
var (
	ErrAlreadyListening = errors.New("channel already listening")
	ErrNilHandler       = errors.New("nil handler")
)

// DefaultQueueSize is the outbound queue depth of queued variants.
const DefaultQueueSize = 256

// report invokes onError if one was supplied.
func report(onError func(error), err error) {
	if onError != nil && err != nil {
		onError(err)
	}
}

// busError maps a bus failure for peer onto the bridge taxonomy.
func busError(peer string, err error) error {
	switch {
	case errors.Is(err, bus.ErrNoResponders):
		return bridgeerrors.PeerUnavailable(peer, err, bridgeerrors.WithMetadata("reason", "no_responders"))
	case errors.Is(err, bus.ErrTimeout):
		return bridgeerrors.PeerUnavailable(peer, err, bridgeerrors.WithMetadata("reason", "ack_timeout"))
	case errors.Is(err, bus.ErrClosed):
		return bridgeerrors.WrapWithCode(err, bridgeerrors.ErrCodeClosed, "bus closed", bridgeerrors.WithPeer(peer))
	default:
		return bridgeerrors.WrapWithCode(err, bridgeerrors.ErrCodeNetworkErr, "transmit failed", bridgeerrors.WithPeer(peer))
	}
}

type outbound struct {
	data    []byte
	onError func(error)
}

// sendQueue transmits on one goroutine so data leaves in the order it was
// queued without blocking the caller.
type sendQueue struct {
	items   chan outbound
	done    chan struct{}
	stopped chan struct{}
	deliver func([]byte) error
	peer    string
}

func newSendQueue(size int, peer string, deliver func([]byte) error) *sendQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &sendQueue{
		items:   make(chan outbound, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		deliver: deliver,
		peer:    peer,
	}
	go q.run()
	return q
}

func (q *sendQueue) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.done:
			return
		case ob := <-q.items:
			if err := q.deliver(ob.data); err != nil {
				report(ob.onError, err)
			}
		}
	}
}

// push queues data. A full queue fails the transmission immediately; after
// close data is dropped silently.
func (q *sendQueue) push(data []byte, onError func(error)) {
	select {
	case <-q.done:
		return
	default:
	}

	select {
	case q.items <- outbound{data: data, onError: onError}:
	case <-q.done:
	default:
		report(onError, bridgeerrors.New(bridgeerrors.ErrCodeUnavailable, "send queue full",
			bridgeerrors.WithPeer(q.peer)))
	}
}

func (q *sendQueue) close() {
	close(q.done)
}
