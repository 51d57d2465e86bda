// Package config loads bridge settings from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/mcpbridge/channel"
	"github.com/vinayprograms/mcpbridge/heartbeat"
	"github.com/vinayprograms/mcpbridge/transport"
)

// FileName is the config file looked up in the standard locations.
const FileName = "mcpbridge.toml"

// Channel modes.
const (
	ChannelBroadcast = "broadcast"
	ChannelPeer      = "peer"
	ChannelWebSocket = "websocket"
)

// Duration is a time.Duration that decodes from strings like "1s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level bridge configuration.
type Config struct {
	Bridge    BridgeConfig    `toml:"bridge"`
	NATS      NATSConfig      `toml:"nats"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Metrics   MetricsConfig   `toml:"metrics"`
	MCP       MCPConfig       `toml:"mcp"`
}

// BridgeConfig holds transport and channel settings.
type BridgeConfig struct {
	Kind              string   `toml:"kind"`
	Channel           string   `toml:"channel"`
	EchoFilter        string   `toml:"echo_filter"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	PeerTimeout       Duration `toml:"peer_timeout"`

	// Peer channel
	PeerID     string   `toml:"peer_id"`
	ListenID   string   `toml:"listen_id"`
	AckTimeout Duration `toml:"ack_timeout"`

	// Broadcast channel
	Subject string `toml:"subject"`
}

// NATSConfig selects the bus. An empty URL uses the in-process memory bus.
type NATSConfig struct {
	URL  string `toml:"url"`
	Name string `toml:"name"`
}

// WebSocketConfig holds the peer socket settings.
type WebSocketConfig struct {
	URL          string   `toml:"url"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"`
	Insecure bool   `toml:"insecure"`
	Debug    bool   `toml:"debug"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// MCPConfig holds protocol server settings.
type MCPConfig struct {
	// RateLimitRPS bounds requests per peer session; 0 disables the limit.
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	peer := channel.DefaultPeerConfig()
	ws := channel.DefaultWebSocketConfig()
	return &Config{
		Bridge: BridgeConfig{
			Kind:              string(transport.KindServer),
			Channel:           ChannelBroadcast,
			EchoFilter:        "kind",
			HeartbeatInterval: Duration{heartbeat.DefaultInterval},
			PeerTimeout:       Duration{heartbeat.DefaultMonitorConfig().Timeout},
			PeerID:            peer.PeerID,
			ListenID:          peer.ListenID,
			AckTimeout:        Duration{peer.AckTimeout},
			Subject:           channel.DefaultSubject,
		},
		NATS: NATSConfig{
			Name: "mcpbridge",
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: Duration{ws.WriteTimeout},
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpbridge", FileName))
	}
	return paths
}

// Find returns the first standard path that exists, or "".
func Find() string {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads path over the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("load %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Bridge.Channel {
	case ChannelBroadcast, ChannelPeer:
	case ChannelWebSocket:
		if c.WebSocket.URL == "" {
			return fmt.Errorf("websocket channel requires websocket.url")
		}
	default:
		return fmt.Errorf("unknown channel %q (want broadcast, peer or websocket)", c.Bridge.Channel)
	}

	if _, err := transport.ParseFilterPolicy(c.Bridge.EchoFilter); err != nil {
		return err
	}
	if c.Bridge.HeartbeatInterval.Duration <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.Bridge.AckTimeout.Duration < 0 || c.Bridge.PeerTimeout.Duration < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.MCP.RateLimitRPS < 0 || c.MCP.RateLimitBurst < 0 {
		return fmt.Errorf("mcp rate limit must not be negative")
	}
	if c.Bridge.Channel == ChannelPeer && c.Bridge.PeerID == c.Bridge.ListenID {
		return fmt.Errorf("peer_id and listen_id must differ")
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("unknown telemetry protocol %q", c.Telemetry.Protocol)
	}
	return nil
}

// Filter returns the parsed echo filter policy.
func (c *Config) Filter() transport.FilterPolicy {
	p, _ := transport.ParseFilterPolicy(c.Bridge.EchoFilter)
	return p
}

// Transport returns the transport configuration.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		Kind:              transport.Kind(c.Bridge.Kind),
		Filter:            c.Filter(),
		HeartbeatInterval: c.Bridge.HeartbeatInterval.Duration,
		ChannelName:       c.Bridge.Channel,
	}
}

// Peer returns the peer channel configuration.
func (c *Config) Peer() channel.PeerConfig {
	return channel.PeerConfig{
		ListenID:   c.Bridge.ListenID,
		PeerID:     c.Bridge.PeerID,
		AckTimeout: c.Bridge.AckTimeout.Duration,
	}
}

// WebSocketChannel returns the websocket channel configuration.
func (c *Config) WebSocketChannel() channel.WebSocketConfig {
	cfg := channel.DefaultWebSocketConfig()
	if c.WebSocket.WriteTimeout.Duration > 0 {
		cfg.WriteTimeout = c.WebSocket.WriteTimeout.Duration
	}
	return cfg
}

// Monitor returns the presence monitor configuration.
func (c *Config) Monitor() heartbeat.MonitorConfig {
	cfg := heartbeat.DefaultMonitorConfig()
	if c.Bridge.PeerTimeout.Duration > 0 {
		cfg.Timeout = c.Bridge.PeerTimeout.Duration
	}
	return cfg
}
