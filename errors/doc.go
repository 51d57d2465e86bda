// Package errors provides the structured error taxonomy used across the
// bridge. Every failure the bridge reports through an error callback is an
// *Error carrying a code, a category and the session/peer it concerns.
//
// # Error Categories
//
//   - Transient: the peer may show up later (absent, timed out, network)
//   - Permanent: retrying the same input will not help (closed, invalid)
//   - Internal: bugs, including panics recovered from user callbacks
//
// # Usage
//
// Report an absent peer:
//
//	err := errors.PeerUnavailable("iegmbfhabdlajoplgfiaamjmknnniiob", cause,
//	    errors.WithSession(sid))
//
// Check what kind of failure arrived on an error callback:
//
//	if errors.Is(err, errors.ErrCodeUnavailable) {
//	    // no listener on the other side; expected while the peer is away
//	}
//
// Transient delivery failures are the steady state of a best-effort channel
// and callers should not treat them as fatal.
package errors
