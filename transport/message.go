package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Message is a single JSON-RPC 2.0 message: a request, a notification or a
// response. ID, Params, Result and Error stay raw so values pass through the
// bridge byte for byte. Use RPCError to interpret an error member.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// HasMethod reports whether the message is a request or notification.
func (m *Message) HasMethod() bool {
	return m.Method != ""
}

// HasError reports whether the message carries a non-null error member.
func (m *Message) HasError() bool {
	return nonNull(m.Error)
}

// RPCError decodes the error member as a JSON-RPC error object. It returns
// nil, nil when the message carries no error.
func (m *Message) RPCError() (*Error, error) {
	if !m.HasError() {
		return nil, nil
	}
	var e Error
	if err := json.Unmarshal(m.Error, &e); err != nil {
		return nil, fmt.Errorf("decode error member: %w", err)
	}
	return &e, nil
}

// IsRequest reports whether the message is a request (method and non-null id).
func (m *Message) IsRequest() bool {
	return m.HasMethod() && nonNull(m.ID)
}

// IsNotification reports whether the message is a notification (method, no id).
func (m *Message) IsNotification() bool {
	return m.HasMethod() && !nonNull(m.ID)
}

// IsResponse reports whether the message is a response (no method).
func (m *Message) IsResponse() bool {
	return !m.HasMethod()
}

func nonNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// NewRequest builds a request. params may be nil.
func NewRequest(id interface{}, method string, params interface{}) (*Message, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal id: %w", err)
	}
	rawParams, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &Message{JSONRPC: Version, ID: rawID, Method: method, Params: rawParams}, nil
}

// NewNotification builds a notification. params may be nil.
func NewNotification(method string, params interface{}) (*Message, error) {
	rawParams, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &Message{JSONRPC: Version, Method: method, Params: rawParams}, nil
}

// NewResult builds a successful response to the request with the given raw id.
func NewResult(id json.RawMessage, result interface{}) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response. A nil id is sent as null.
func NewError(id json.RawMessage, code int, message string, data interface{}) *Message {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	raw, err := json.Marshal(&Error{Code: code, Message: message, Data: data})
	if err != nil {
		raw, _ = json.Marshal(&Error{Code: code, Message: message})
	}
	return &Message{JSONRPC: Version, ID: id, Error: raw}
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Parse parses raw JSON into a Message and checks the JSON-RPC 2.0 shape.
// Failures are returned as *Error with a standard code.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	if msg.JSONRPC != Version {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}
	if !msg.HasMethod() && msg.Result == nil && !msg.HasError() {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "message has neither method nor result"}
	}

	return &msg, nil
}
