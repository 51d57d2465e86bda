package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"
)

// Emitter calls a beat function at a fixed interval. Every tick fires
// unconditionally: no jitter, no backoff, no skipping after failures.
type Emitter struct {
	interval time.Duration
	beat     func()

	state  atomic.Int32
	once   sync.Once
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewEmitter creates an idle emitter. A non-positive interval uses DefaultInterval.
func NewEmitter(interval time.Duration, beat func()) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if beat == nil {
		beat = func() {}
	}
	return &Emitter{
		interval: interval,
		beat:     beat,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the ticker. The first beat fires one interval after Start.
// A stopped emitter cannot be restarted.
func (e *Emitter) Start() error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if e.State() == StateStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	go e.run()
	return nil
}

func (e *Emitter) run() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			// Stop may race with a ready tick.
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.beat()
		}
	}
}

// Stop halts the ticker and waits for an in-flight beat to return.
// Safe to call more than once and before Start.
func (e *Emitter) Stop() {
	e.once.Do(func() {
		prev := State(e.state.Swap(int32(StateStopped)))
		close(e.stopCh)
		if prev == StateRunning {
			<-e.doneCh
		}
	})
}

// State returns the current lifecycle state.
func (e *Emitter) State() State {
	return State(e.state.Load())
}

// Interval returns the beat interval.
func (e *Emitter) Interval() time.Duration {
	return e.interval
}
