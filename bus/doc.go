// Package bus provides the message media that bridge channels ride on.
//
// # Overview
//
// A MessageBus is a subject-addressed, best-effort pub/sub medium. The bridge
// uses it two ways:
//
//   - Broadcast: every participant subscribes to and publishes on one shared
//     subject, the way scripts in a single page share window messages.
//   - Peer: each participant listens on its own inbox subject and addresses
//     the other side by a fixed id using Request, so an absent peer shows up
//     as ErrNoResponders or ErrTimeout instead of silent loss.
//
// # Available Implementations
//
//   - MemoryBus: in-process medium for a single "document" and for tests
//   - NATSBus: NATS-backed medium for contexts in separate processes
//
// # Delivery
//
// Delivery is at-most-once. A subscriber whose buffer is full misses the
// message; nothing is retried.
//
//	sub, _ := b.Subscribe("window.message")
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
//	reply, err := b.Request("runtime.peer-id", data, 2*time.Second)
//	if errors.Is(err, bus.ErrNoResponders) {
//	    // peer absent
//	}
package bus
