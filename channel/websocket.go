package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	bridgeerrors "github.com/vinayprograms/mcpbridge/errors"
)

// WebSocketConfig configures a WebSocket channel.
type WebSocketConfig struct {
	// WriteTimeout for write operations.
	// Default: 10 seconds
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	// Default: 1MB
	MaxMessageSize int64

	// QueueSize is the outbound queue depth.
	// Default: 256
	QueueSize int
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1024 * 1024,
		QueueSize:      DefaultQueueSize,
	}
}

// NewUpgrader creates an upgrader for accepting peer connections.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
	}
}

// WebSocket carries envelopes as text frames over one connection.
type WebSocket struct {
	conn   *websocket.Conn
	config WebSocketConfig
	remote string
	out    *sendQueue

	writeMu   sync.Mutex
	mu        sync.Mutex
	listening bool
	closed    bool
}

// NewWebSocket wraps an established connection. Zero config fields take
// defaults.
func NewWebSocket(conn *websocket.Conn, cfg WebSocketConfig) *WebSocket {
	def := DefaultWebSocketConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	conn.SetReadLimit(cfg.MaxMessageSize)

	c := &WebSocket{
		conn:   conn,
		config: cfg,
		remote: conn.RemoteAddr().String(),
	}
	c.out = newSendQueue(cfg.QueueSize, c.remote, c.write)
	return c
}

// DialWebSocket connects to a peer at url.
func DialWebSocket(ctx context.Context, url string, cfg WebSocketConfig) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, bridgeerrors.PeerUnavailable(url, err)
	}
	return NewWebSocket(conn, cfg), nil
}

// Listen starts the read loop. It ends when the connection fails or closes.
func (c *WebSocket) Listen(handler func(data []byte)) error {
	if handler == nil {
		return ErrNilHandler
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return bridgeerrors.Closed("websocket channel")
	}
	if c.listening {
		return ErrAlreadyListening
	}
	c.listening = true

	go c.readLoop(handler)
	return nil
}

func (c *WebSocket) readLoop(handler func([]byte)) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		handler(data)
	}
}

// Transmit queues data as a text frame. Write failures go to onError.
func (c *WebSocket) Transmit(data []byte, onError func(error)) {
	c.out.push(data, onError)
}

func (c *WebSocket) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return bridgeerrors.WrapWithCode(err, bridgeerrors.ErrCodeNetworkErr, "websocket write",
			bridgeerrors.WithPeer(c.remote))
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (c *WebSocket) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.out.close()

	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}
