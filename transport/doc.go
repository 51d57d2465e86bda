// Package transport carries MCP messages between two isolated contexts over
// a best-effort Channel.
//
// # Overview
//
// A Transport owns one session id and one heartbeat for its lifetime. Every
// outbound message is wrapped in an envelope that tags the method with the
// "mcp:" namespace and records the sender's session and kind:
//
//	{"method":"mcp:tools/call","params":{...},"id":7,
//	 "mcpSessionId":"6f1c...","source":"mcp-server"}
//
// Inbound traffic is decoded in a fixed order: unparseable input is dropped,
// then self-echo, then anything without the namespace marker. What remains is
// handed to OnMessage with the marker stripped.
//
// # Usage
//
//	ch := channel.NewBroadcast(bus.NewMemoryBus(bus.DefaultConfig()), "")
//	t := transport.New(ch, transport.DefaultConfig(),
//	    transport.WithLogger(logging.New()),
//	)
//	t.OnMessage(func(msg *transport.Message, extra transport.MessageExtra) {
//	    // route to the protocol server
//	})
//	t.OnError(func(err error) {
//	    // peer absent, medium failed, callback panicked
//	})
//	if err := t.Start(ctx); err != nil {
//	    return err
//	}
//	defer t.Close()
//
// # Delivery
//
// Send never reports delivery. The bridge is at-most-once and never retries;
// the heartbeat is the only signal that a peer is present.
//
// # Echo filtering
//
// On a shared medium a transport hears its own broadcasts. With FilterKind
// (the default) every envelope carrying the receiver's kind tag is dropped,
// so two transports of the same kind on one medium ignore each other too.
// FilterSession drops only the receiver's own session.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Callbacks run one at a time on a
// single goroutine in arrival order, and may call Send or Close.
package transport
