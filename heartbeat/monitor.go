package heartbeat

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/mcpbridge/session"
)

// Monitor tracks heartbeats observed from remote sessions and reports peers
// that go silent or come back.
type Monitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	retain        time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	lastSeen map[session.ID]time.Time
	reported map[session.ID]bool // peers already reported dead
	deadCBs  []func(session.ID)
	aliveCBs []func(session.ID)

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a presence monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultMonitorConfig().CheckInterval
	}

	retain := cfg.Retain
	if retain <= 0 {
		retain = 4 * timeout
	}

	return &Monitor{
		timeout:       timeout,
		checkInterval: checkInterval,
		retain:        retain,
		now:           time.Now,
		lastSeen:      make(map[session.ID]time.Time),
		reported:      make(map[session.ID]bool),
	}, nil
}

// Observe records a heartbeat from a session. The first beat from a session,
// and the first beat after it was reported dead, fire the alive callbacks.
func (m *Monitor) Observe(id session.ID) {
	if id.IsZero() {
		return
	}

	m.mu.Lock()
	_, seen := m.lastSeen[id]
	returned := m.reported[id]
	m.lastSeen[id] = m.now()
	delete(m.reported, id)
	var callbacks []func(session.ID)
	if !seen || returned {
		callbacks = make([]func(session.ID), len(m.aliveCBs))
		copy(callbacks, m.aliveCBs)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(id)
	}
}

// IsAlive checks if a session has sent a heartbeat within timeout.
func (m *Monitor) IsAlive(id session.ID, timeout time.Duration) bool {
	m.mu.RLock()
	last, ok := m.lastSeen[id]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	return m.now().Sub(last) <= timeout
}

// LastSeen returns when the session last sent a heartbeat.
func (m *Monitor) LastSeen(id session.ID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last, ok := m.lastSeen[id]
	return last, ok
}

// Peers returns the sessions currently considered alive, sorted.
func (m *Monitor) Peers() []session.ID {
	now := m.now()

	m.mu.RLock()
	peers := make([]session.ID, 0, len(m.lastSeen))
	for id, last := range m.lastSeen {
		if now.Sub(last) <= m.timeout {
			peers = append(peers, id)
		}
	}
	m.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// OnDead registers a callback for when a peer is presumed dead.
func (m *Monitor) OnDead(callback func(id session.ID)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, callback)
	m.mu.Unlock()
}

// OnAlive registers a callback for when a peer appears or returns.
func (m *Monitor) OnAlive(callback func(id session.ID)) {
	m.mu.Lock()
	m.aliveCBs = append(m.aliveCBs, callback)
	m.mu.Unlock()
}

// Start runs the dead peer checker.
func (m *Monitor) Start() error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run()
	return nil
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	checkTicker := time.NewTicker(m.checkInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-checkTicker.C:
			m.CheckDead()
		}
	}
}

// CheckDead reports peers silent for longer than the timeout.
// Each silence is reported once. Reported peers silent past the retain
// period are evicted.
func (m *Monitor) CheckDead() {
	now := m.now()
	var dead []session.ID

	m.mu.Lock()
	for id, last := range m.lastSeen {
		silence := now.Sub(last)
		if m.reported[id] && silence > m.timeout+m.retain {
			delete(m.lastSeen, id)
			delete(m.reported, id)
			continue
		}
		if silence > m.timeout && !m.reported[id] {
			m.reported[id] = true
			dead = append(dead, id)
		}
	}
	callbacks := make([]func(session.ID), len(m.deadCBs))
	copy(callbacks, m.deadCBs)
	m.mu.Unlock()

	sort.Slice(dead, func(i, j int) bool { return dead[i] < dead[j] })
	for _, id := range dead {
		for _, cb := range callbacks {
			cb(id)
		}
	}
}

// Stop stops the dead peer checker.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	close(m.stopCh)
	<-m.doneCh
	return nil
}

// Forget drops all state for a session.
func (m *Monitor) Forget(id session.ID) {
	m.mu.Lock()
	delete(m.lastSeen, id)
	delete(m.reported, id)
	m.mu.Unlock()
}
