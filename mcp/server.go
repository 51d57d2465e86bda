package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/telemetry"
	"github.com/vinayprograms/mcpbridge/transport"
)

// ToolHandler runs a tool. A returned error becomes a result with
// IsError set; it is not a protocol error.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*ToolCallResult, error)

type registeredTool struct {
	tool    Tool
	handler ToolHandler
}

// Server answers MCP requests arriving on a Conn.
type Server struct {
	info    Implementation
	logger  *logging.Logger
	tracer  *telemetry.Tracer
	limiter *sessionLimiter

	mu    sync.RWMutex
	tools map[string]registeredTool
	conn  Conn
	ctx   context.Context
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l.WithComponent("mcp")
		}
	}
}

// WithServerTracer sets the tracer used for tool spans.
func WithServerTracer(t *telemetry.Tracer) ServerOption {
	return func(s *Server) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRateLimit bounds the requests each peer session may make. Refused
// requests get a RequestLimited error.
func WithRateLimit(cfg RateLimit) ServerOption {
	return func(s *Server) {
		s.limiter = newSessionLimiter(cfg)
	}
}

// NewServer creates a server with no tools.
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		info:   Implementation{Name: name, Version: version},
		logger: logging.Nop(),
		tracer: telemetry.GetTracer(),
		tools:  make(map[string]registeredTool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTool registers a tool, replacing any tool with the same name.
func (s *Server) AddTool(tool Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}
	if tool.InputSchema == nil {
		tool.InputSchema = map[string]interface{}{"type": "object"}
	}

	s.mu.Lock()
	s.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
	s.mu.Unlock()
	return nil
}

// RemoveTool unregisters a tool.
func (s *Server) RemoveTool(name string) {
	s.mu.Lock()
	delete(s.tools, name)
	s.mu.Unlock()
}

// Tools returns the registered tools sorted by name.
func (s *Server) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]Tool, 0, len(s.tools))
	for _, rt := range s.tools {
		tools = append(tools, rt.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Connect attaches the server to conn and starts it. ctx is handed to tool
// handlers. A server serves one connection.
func (s *Server) Connect(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("server %q already connected", s.info.Name)
	}
	s.conn = conn
	s.ctx = ctx
	s.mu.Unlock()

	conn.OnMessage(s.handle)
	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	s.logger.Info("server_connected", map[string]interface{}{
		"server": s.info.Name,
		"tools":  len(s.Tools()),
	})
	return nil
}

func (s *Server) handle(msg *transport.Message, extra transport.MessageExtra) {
	if msg.IsResponse() {
		return
	}

	if msg.IsNotification() {
		if msg.Method == MethodInitialized {
			s.logger.Info("client_initialized", map[string]interface{}{"peer_session": extra.SessionID})
		}
		return
	}

	var result interface{}
	var rpcErr *transport.Error
	if s.limiter.allow(extra.SessionID, time.Now()) {
		result, rpcErr = s.dispatch(msg)
	} else {
		s.logger.Warn("request_limited", map[string]interface{}{
			"method":       msg.Method,
			"peer_session": extra.SessionID,
		})
		rpcErr = &transport.Error{Code: RequestLimited, Message: "Too many requests"}
	}
	var reply *transport.Message
	if rpcErr != nil {
		reply = transport.NewError(msg.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		var err error
		reply, err = transport.NewResult(msg.ID, result)
		if err != nil {
			reply = transport.NewError(msg.ID, transport.InternalError, "Internal error", err.Error())
		}
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	conn.Send(reply)
}

func (s *Server) dispatch(msg *transport.Message) (interface{}, *transport.Error) {
	switch msg.Method {
	case MethodInitialize:
		var params InitializeParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, invalidParams(err)
		}
		s.logger.Debug("initialize", map[string]interface{}{
			"client":  params.ClientInfo.Name,
			"version": params.ProtocolVersion,
		})
		return &InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			ServerInfo: s.info,
		}, nil

	case MethodPing:
		return struct{}{}, nil

	case MethodToolsList:
		return &ToolsListResult{Tools: s.Tools()}, nil

	case MethodToolsCall:
		var params ToolCallParams
		if err := decodeParams(msg.Params, &params); err != nil {
			return nil, invalidParams(err)
		}
		return s.callTool(params)

	default:
		return nil, &transport.Error{Code: transport.MethodNotFound, Message: "Method not found", Data: msg.Method}
	}
}

func (s *Server) callTool(params ToolCallParams) (interface{}, *transport.Error) {
	s.mu.RLock()
	rt, ok := s.tools[params.Name]
	ctx := s.ctx
	s.mu.RUnlock()

	if !ok {
		return nil, &transport.Error{Code: transport.InvalidParams, Message: "Unknown tool", Data: params.Name}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := s.tracer.StartToolSpan(ctx, s.info.Name, params.Name)
	result, err := rt.handler(ctx, params.Arguments)
	if err != nil {
		result = ErrorResult(err)
	}
	if result == nil {
		result = &ToolCallResult{Content: []Content{}}
	}

	s.tracer.EndToolSpan(span, telemetry.ToolSpanOptions{Args: params.Arguments, Result: result.Text()}, err)
	s.logger.Debug("tool_call", map[string]interface{}{
		"tool":     params.Name,
		"is_error": result.IsError,
	})
	return result, nil
}

func invalidParams(err error) *transport.Error {
	return &transport.Error{Code: transport.InvalidParams, Message: "Invalid params", Data: err.Error()}
}

// compile-time check
var _ Conn = (*transport.Transport)(nil)
