// Command mcpbridge runs an MCP server behind a bridge transport.
//
// It loads mcpbridge.toml (or the file named by -config), opens the
// configured medium, and serves one tool, update_greeting, until SIGINT or
// SIGTERM.
//
// Run: go run ./cmd/mcpbridge -config mcpbridge.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/mcpbridge/bus"
	"github.com/vinayprograms/mcpbridge/channel"
	"github.com/vinayprograms/mcpbridge/config"
	"github.com/vinayprograms/mcpbridge/heartbeat"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/mcp"
	"github.com/vinayprograms/mcpbridge/metrics"
	"github.com/vinayprograms/mcpbridge/session"
	"github.com/vinayprograms/mcpbridge/shutdown"
	"github.com/vinayprograms/mcpbridge/telemetry"
	"github.com/vinayprograms/mcpbridge/transport"
)

// Version is the server version reported to clients.
const Version = "0.1.0"

func main() {
	configPath := flag.String("config", config.Find(), "path to mcpbridge.toml")
	logLevel := flag.String("log-level", "", "override [log] level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpbridge: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))

	if err := run(context.Background(), cfg, *configPath, logger); err != nil {
		logger.Error("exit", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string, logger *logging.Logger) error {
	coord := shutdown.NewCoordinator(shutdown.Config{Logger: logger})

	// Telemetry is optional; without an endpoint spans go to the no-op tracer.
	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			Debug:          cfg.Telemetry.Debug,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
	}

	b, err := newBus(cfg)
	if err != nil {
		return err
	}
	coord.Register("bus", shutdown.PhaseMedium, shutdown.Closer(b))

	ch, err := newChannel(ctx, cfg, b, logger)
	if err != nil {
		coord.Shutdown(ctx)
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:    cfg.Metrics.Addr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics_server", map[string]interface{}{"error": err.Error()})
			}
		}()
		coord.RegisterFunc("metrics", shutdown.PhaseServices, srv.Shutdown)
	}

	monitor, err := newMonitor(cfg, logger)
	if err != nil {
		coord.Shutdown(ctx)
		return err
	}
	coord.RegisterFunc("monitor", shutdown.PhaseServices, func(context.Context) error {
		return monitor.Stop()
	})

	t := transport.New(ch, cfg.Transport(),
		transport.WithLogger(logger),
		transport.WithMetrics(m),
		transport.WithMonitor(monitor),
		transport.WithTracer(telemetry.GetTracer()),
	)
	t.OnError(func(err error) {
		logger.Debug("transport_error", map[string]interface{}{"error": err.Error()})
	})
	coord.Register("transport", shutdown.PhaseTransport, shutdown.Closer(t))

	server := mcp.NewServer("mcpbridge", Version,
		mcp.WithServerLogger(logger),
		mcp.WithServerTracer(telemetry.GetTracer()),
		mcp.WithRateLimit(mcp.RateLimit{RPS: cfg.MCP.RateLimitRPS, Burst: cfg.MCP.RateLimitBurst}),
	)
	if err := server.AddTool(greetingTool(), greetingHandler(logger)); err != nil {
		coord.Shutdown(ctx)
		return err
	}
	if err := server.Connect(ctx, t); err != nil {
		coord.Shutdown(ctx)
		return err
	}

	if configPath != "" {
		w, err := config.Watch(configPath, func(next *config.Config) {
			logger.SetLevel(logging.ParseLevel(next.Log.Level))
			logger.Info("config_reloaded", map[string]interface{}{"level": next.Log.Level})
		}, func(err error) {
			logger.Warn("config_reload_failed", map[string]interface{}{"error": err.Error()})
		})
		if err != nil {
			logger.Warn("config_watch_unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			coord.Register("config-watch", shutdown.PhaseServices, shutdown.Closer(w))
		}
	}

	logger.Info("ready", map[string]interface{}{
		"channel": cfg.Bridge.Channel,
		"session": t.SessionID().String(),
	})

	coord.HandleSignals()
	<-coord.Done()
	return coord.Result().Err
}

// newBus connects to NATS when a URL is configured and otherwise uses an
// in-process bus.
func newBus(cfg *config.Config) (bus.MessageBus, error) {
	if cfg.NATS.URL == "" {
		return bus.NewMemoryBus(bus.DefaultConfig()), nil
	}
	natsCfg := bus.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	if cfg.NATS.Name != "" {
		natsCfg.Name = cfg.NATS.Name
	}
	b, err := bus.NewNATSBus(natsCfg)
	if err != nil {
		return nil, fmt.Errorf("bus: %w", err)
	}
	return b, nil
}

// newChannel builds the configured medium.
func newChannel(ctx context.Context, cfg *config.Config, b bus.MessageBus, logger *logging.Logger) (transport.Channel, error) {
	switch cfg.Bridge.Channel {
	case config.ChannelPeer:
		pc := cfg.Peer()
		pc.Logger = logger.WithComponent("peer")
		return channel.NewPeer(b, pc), nil
	case config.ChannelWebSocket:
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ws, err := channel.DialWebSocket(dialCtx, cfg.WebSocket.URL, cfg.WebSocketChannel())
		if err != nil {
			return nil, fmt.Errorf("websocket: %w", err)
		}
		return ws, nil
	default:
		return channel.NewBroadcast(b, cfg.Bridge.Subject), nil
	}
}

// newMonitor starts a presence monitor that logs peers coming and going.
func newMonitor(cfg *config.Config, logger *logging.Logger) (*heartbeat.Monitor, error) {
	monCfg := cfg.Monitor()
	monitor, err := heartbeat.NewMonitor(monCfg)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	monitor.OnAlive(func(id session.ID) {
		logger.PeerAlive(id.String())
	})
	monitor.OnDead(func(id session.ID) {
		silence := monCfg.Timeout
		if last, ok := monitor.LastSeen(id); ok {
			silence = time.Since(last).Round(time.Millisecond)
		}
		logger.PeerDead(id.String(), silence)
	})
	if err := monitor.Start(); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	return monitor, nil
}
