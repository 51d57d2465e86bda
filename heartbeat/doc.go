// Package heartbeat provides liveness signaling between bridge peers.
//
// # Overview
//
// A transport announces itself by firing a "ping" notification at a fixed
// interval. The remote side never handshakes: it learns that a peer is
// present by observing those beats, and presumes it gone after a period of
// silence.
//
//	┌─────────────┐       mcp:ping (every 1s)      ┌─────────────┐
//	│   Emitter   │ ─────────────────────────────> │   Monitor   │
//	│ (transport) │                                │   (peer)    │
//	└─────────────┘                                └─────────────┘
//
// # Usage
//
// Emitting beats:
//
//	em := heartbeat.NewEmitter(time.Second, func() {
//	    // encode and transmit a ping
//	})
//	em.Start()
//	defer em.Stop()
//
// Watching peers:
//
//	mon, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{Timeout: 3 * time.Second})
//	mon.OnDead(func(id session.ID) {
//	    log.Printf("peer %s went silent", id)
//	})
//	mon.Start()
//
// # Emitter lifecycle
//
// Idle -> Running on Start, Running -> Stopped on Stop. Stopped is
// terminal: Stop is idempotent and a stopped emitter never restarts.
package heartbeat
