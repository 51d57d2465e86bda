// Package logging provides real-time console output for the bridge.
// Transport traffic is logged at DEBUG so a quiet INFO log shows only
// lifecycle and peer presence changes.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  *Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	level := LevelInfo
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: &level,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	*l.minLevel = LevelError
	return l
}

// ParseLevel maps a config string to a Level. Unknown values yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// WithComponent returns a new logger with the given component name.
// The child shares the parent's output lock and level, so SetLevel on
// any of them applies to all.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	*l.minLevel = level
	l.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[*l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.output.Write([]byte(line))
}

// --- Bridge event logging ---

// TransportStarted logs a transport beginning to listen.
func (l *Logger) TransportStarted(kind, channel, session string) {
	l.Info("transport_start", map[string]interface{}{
		"kind":    kind,
		"channel": channel,
		"session": session,
	})
}

// TransportClosed logs a transport shutting down.
func (l *Logger) TransportClosed(session string) {
	l.Info("transport_close", map[string]interface{}{
		"session": session,
	})
}

// EnvelopeSent logs an outbound envelope. Heartbeats are not logged.
func (l *Logger) EnvelopeSent(method string, session string) {
	if method == "" {
		method = "(response)"
	}
	l.Debug("envelope_sent", map[string]interface{}{
		"method":  method,
		"session": session,
	})
}

// EnvelopeReceived logs an inbound envelope accepted for the protocol layer.
func (l *Logger) EnvelopeReceived(method string, from string) {
	l.Debug("envelope_received", map[string]interface{}{
		"method": method,
		"from":   from,
	})
}

// DeliveryFailed logs a failed transmission. An absent peer is an expected
// steady state, so this stays at DEBUG.
func (l *Logger) DeliveryFailed(peer string, err error) {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	if peer != "" {
		fields["peer"] = peer
	}
	l.Debug("delivery_failed", fields)
}

// AckFailed logs an acknowledgement that could not be published. The remote
// side sees a timeout.
func (l *Logger) AckFailed(reply string, err error) {
	l.Debug("ack_failed", map[string]interface{}{
		"reply": reply,
		"error": err.Error(),
	})
}

// PeerAlive logs a peer appearing (first heartbeat or return after silence).
func (l *Logger) PeerAlive(session string) {
	l.Info("peer_alive", map[string]interface{}{
		"peer_session": session,
	})
}

// PeerDead logs a peer presumed gone.
func (l *Logger) PeerDead(session string, silence time.Duration) {
	l.Warn("peer_dead", map[string]interface{}{
		"peer_session": session,
		"silence":      silence.String(),
	})
}
