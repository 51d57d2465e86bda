package heartbeat

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrStopped        = errors.New("heartbeat stopped")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// DefaultInterval is the emitter's beat interval when none is configured.
const DefaultInterval = time.Second

// State is the lifecycle state of an Emitter.
type State int32

const (
	// StateIdle means the emitter has not been started.
	StateIdle State = iota

	// StateRunning means the emitter is firing beats.
	StateRunning

	// StateStopped is terminal. A stopped emitter never fires again.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MonitorConfig configures a presence monitor.
type MonitorConfig struct {
	// Timeout for considering a peer dead.
	// Should be 2-3x the peer's heartbeat interval.
	// Default: 3 seconds
	Timeout time.Duration

	// CheckInterval for the dead peer checker.
	// Default: 1 second
	CheckInterval time.Duration

	// Retain is how long a dead peer's entry is kept before it is evicted.
	// A peer evicted and then heard again is reported alive as new.
	// Default: 4x Timeout
	Retain time.Duration
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Timeout < 0 || c.CheckInterval < 0 || c.Retain < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       3 * DefaultInterval,
		CheckInterval: DefaultInterval,
	}
}
