package mcp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/mcpbridge/session"
)

// RequestLimited is the JSON-RPC error code for requests refused by the
// per-session rate limit.
const RequestLimited = -32029

// RateLimit bounds requests per peer session.
type RateLimit struct {
	// RPS is the sustained request rate.
	RPS float64

	// Burst is the number of requests allowed at once.
	Burst int
}

type sessionLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	bySession map[session.ID]*limiterEntry
	hits      uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSessionLimiter(cfg RateLimit) *sessionLimiter {
	if cfg.RPS <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &sessionLimiter{
		limit:     rate.Limit(cfg.RPS),
		burst:     cfg.Burst,
		idleTTL:   10 * time.Minute,
		bySession: make(map[session.ID]*limiterEntry),
	}
}

// allow reports whether id may make another request. A nil limiter allows
// everything.
func (l *sessionLimiter) allow(id session.ID, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.bySession[id]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.bySession[id] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.bySession {
			if v.lastSeen.Before(cutoff) {
				delete(l.bySession, k)
			}
		}
	}
	return allowed
}
