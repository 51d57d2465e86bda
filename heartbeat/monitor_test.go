package heartbeat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/mcpbridge/session"
)

// fakeClock lets tests move the monitor's notion of now.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, timeout time.Duration) (*Monitor, *fakeClock) {
	t.Helper()
	m, err := NewMonitor(MonitorConfig{Timeout: timeout})
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m.now = clock.Now
	return m, clock
}

// --- Unit Tests ---

func TestMonitorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MonitorConfig
		wantErr bool
	}{
		{"defaults", MonitorConfig{}, false},
		{"explicit", MonitorConfig{Timeout: time.Second, CheckInterval: 100 * time.Millisecond}, false},
		{"negative timeout", MonitorConfig{Timeout: -time.Second}, true},
		{"negative check interval", MonitorConfig{CheckInterval: -time.Second}, true},
		{"negative retain", MonitorConfig{Retain: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultMonitorConfig(t *testing.T) {
	cfg := DefaultMonitorConfig()
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", cfg.Timeout)
	}
	if cfg.CheckInterval != time.Second {
		t.Errorf("CheckInterval = %v, want 1s", cfg.CheckInterval)
	}
}

func TestMonitor_IsAlive(t *testing.T) {
	m, clock := newTestMonitor(t, time.Second)

	if m.IsAlive("peer-1", time.Second) {
		t.Error("expected peer to not be alive initially")
	}

	m.Observe("peer-1")
	if !m.IsAlive("peer-1", time.Second) {
		t.Error("expected peer to be alive after heartbeat")
	}

	clock.Advance(2 * time.Second)
	if m.IsAlive("peer-1", time.Second) {
		t.Error("expected peer to be silent after 2s")
	}
}

func TestMonitor_IgnoresEmptySession(t *testing.T) {
	m, _ := newTestMonitor(t, time.Second)
	m.Observe("")
	if len(m.Peers()) != 0 {
		t.Errorf("Peers() = %v, want none", m.Peers())
	}
}

func TestMonitor_Peers(t *testing.T) {
	m, clock := newTestMonitor(t, time.Second)

	m.Observe("b")
	clock.Advance(1500 * time.Millisecond)
	m.Observe("c")
	m.Observe("a")

	peers := m.Peers()
	want := []session.ID{"a", "c"}
	if len(peers) != len(want) {
		t.Fatalf("Peers() = %v, want %v", peers, want)
	}
	for i := range want {
		if peers[i] != want[i] {
			t.Errorf("Peers()[%d] = %q, want %q", i, peers[i], want[i])
		}
	}
}

func TestMonitor_LastSeen(t *testing.T) {
	m, clock := newTestMonitor(t, time.Second)

	if _, ok := m.LastSeen("peer-1"); ok {
		t.Error("expected no record for unknown peer")
	}

	m.Observe("peer-1")
	last, ok := m.LastSeen("peer-1")
	if !ok || !last.Equal(clock.Now()) {
		t.Errorf("LastSeen() = %v, %v", last, ok)
	}

	m.Forget("peer-1")
	if _, ok := m.LastSeen("peer-1"); ok {
		t.Error("Forget should drop the record")
	}
}

// --- Failure Tests: Death Detection ---

func TestMonitor_DeathDetection(t *testing.T) {
	m, clock := newTestMonitor(t, 100*time.Millisecond)

	var dead []session.ID
	m.OnDead(func(id session.ID) {
		dead = append(dead, id)
	})

	m.Observe("peer-1")
	clock.Advance(200 * time.Millisecond)
	m.CheckDead()

	if len(dead) != 1 || dead[0] != "peer-1" {
		t.Errorf("expected [peer-1] dead, got %v", dead)
	}
}

func TestMonitor_DeathReportedOnce(t *testing.T) {
	m, clock := newTestMonitor(t, 100*time.Millisecond)

	var count int32
	m.OnDead(func(session.ID) {
		atomic.AddInt32(&count, 1)
	})

	m.Observe("peer-1")
	clock.Advance(200 * time.Millisecond)

	m.CheckDead()
	m.CheckDead()
	m.CheckDead()

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 death callback, got %d", count)
	}
}

func TestMonitor_Return(t *testing.T) {
	m, clock := newTestMonitor(t, 100*time.Millisecond)

	var deaths, alive int32
	m.OnDead(func(session.ID) { atomic.AddInt32(&deaths, 1) })
	m.OnAlive(func(session.ID) { atomic.AddInt32(&alive, 1) })

	m.Observe("peer-1")
	m.Observe("peer-1") // steady beats do not re-announce
	if got := atomic.LoadInt32(&alive); got != 1 {
		t.Fatalf("alive callbacks = %d, want 1", got)
	}

	clock.Advance(200 * time.Millisecond)
	m.CheckDead()

	m.Observe("peer-1")
	if !m.IsAlive("peer-1", time.Second) {
		t.Error("expected peer to be alive after returning")
	}
	if got := atomic.LoadInt32(&alive); got != 2 {
		t.Errorf("alive callbacks = %d, want 2", got)
	}

	clock.Advance(200 * time.Millisecond)
	m.CheckDead()

	if got := atomic.LoadInt32(&deaths); got != 2 {
		t.Errorf("expected 2 deaths, got %d", got)
	}
}

func TestMonitor_EvictsLongDeadPeers(t *testing.T) {
	m, clock := newTestMonitor(t, 100*time.Millisecond)

	var deaths, alive int32
	m.OnDead(func(session.ID) { atomic.AddInt32(&deaths, 1) })
	m.OnAlive(func(session.ID) { atomic.AddInt32(&alive, 1) })

	// Every reload of the remote side mints a fresh session.
	for i := 0; i < 50; i++ {
		m.Observe(session.New())
		clock.Advance(200 * time.Millisecond)
		m.CheckDead()
	}
	m.Observe("current")

	clock.Advance(50 * time.Millisecond)
	m.CheckDead()

	m.mu.RLock()
	tracked, reported := len(m.lastSeen), len(m.reported)
	m.mu.RUnlock()

	// Default retain is 4x timeout: only sessions dead for under 500ms stay.
	if tracked > 4 || reported > 3 {
		t.Errorf("tracked %d sessions (%d reported dead), want dead ones evicted", tracked, reported)
	}
	if _, ok := m.LastSeen("current"); !ok {
		t.Error("live peer must not be evicted")
	}
	if got := atomic.LoadInt32(&deaths); got != 50 {
		t.Errorf("deaths = %d, want 50", got)
	}
}

func TestMonitor_EvictedPeerReturnsAsNew(t *testing.T) {
	m, err := NewMonitor(MonitorConfig{Timeout: 100 * time.Millisecond, Retain: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m.now = clock.Now

	var alive int32
	m.OnAlive(func(session.ID) { atomic.AddInt32(&alive, 1) })

	m.Observe("peer-1")
	clock.Advance(150 * time.Millisecond)
	m.CheckDead()
	if _, ok := m.LastSeen("peer-1"); !ok {
		t.Fatal("peer evicted before retain elapsed")
	}

	clock.Advance(100 * time.Millisecond)
	m.CheckDead()
	if _, ok := m.LastSeen("peer-1"); ok {
		t.Fatal("peer still tracked after retain elapsed")
	}

	m.Observe("peer-1")
	if got := atomic.LoadInt32(&alive); got != 2 {
		t.Errorf("alive callbacks = %d, want 2", got)
	}
}

// --- Integration Tests ---

func TestMonitor_CheckerLoop(t *testing.T) {
	m, err := NewMonitor(MonitorConfig{
		Timeout:       30 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}

	deadCh := make(chan session.ID, 1)
	m.OnDead(func(id session.ID) {
		select {
		case deadCh <- id:
		default:
		}
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := m.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	m.Observe("peer-1")

	select {
	case id := <-deadCh:
		if id != "peer-1" {
			t.Errorf("dead id = %q, want peer-1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dead callback")
	}

	if err := m.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
	if err := m.Stop(); err != ErrNotStarted {
		t.Errorf("second Stop = %v, want ErrNotStarted", err)
	}
}

// --- Performance Tests ---

func BenchmarkMonitor_Observe(b *testing.B) {
	m, _ := NewMonitor(DefaultMonitorConfig())
	id := session.New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Observe(id)
	}
}
