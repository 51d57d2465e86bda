package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/mcpbridge/session"
)

// Marker is the namespace prefix carried by every transport method on the wire.
const Marker = "mcp:"

// PingMethod is the reserved heartbeat method (sent as "mcp:ping").
const PingMethod = "ping"

// Kind tags envelopes with the kind of transport that emitted them.
// The tag is shared by every instance of a kind.
type Kind string

const (
	// KindServer is the tag of the server-side transport.
	KindServer Kind = "mcp-server"
)

// FilterPolicy selects how self-echo is recognised on inbound envelopes.
type FilterPolicy int

const (
	// FilterKind drops every envelope carrying the receiver's kind tag.
	// Two transports of the same kind on one medium never see each other.
	FilterKind FilterPolicy = iota

	// FilterSession drops an envelope only when it carries the receiver's
	// kind tag and the receiver's own session id.
	FilterSession
)

// ParseFilterPolicy maps a config value ("kind" or "session") to a policy.
func ParseFilterPolicy(s string) (FilterPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kind":
		return FilterKind, nil
	case "session":
		return FilterSession, nil
	default:
		return FilterKind, fmt.Errorf("unknown echo filter %q", s)
	}
}

func (p FilterPolicy) String() string {
	switch p {
	case FilterKind:
		return "kind"
	case FilterSession:
		return "session"
	default:
		return fmt.Sprintf("FilterPolicy(%d)", int(p))
	}
}

// Verdict is the outcome of decoding one raw inbound message.
type Verdict int

const (
	Accept Verdict = iota
	DiscardMalformed
	DiscardEcho
	DiscardForeign
)

// String returns the verdict name used as a metrics label.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case DiscardMalformed:
		return "malformed"
	case DiscardEcho:
		return "echo"
	case DiscardForeign:
		return "foreign"
	default:
		return "unknown"
	}
}

// Envelope is the wire form of a protocol message.
type Envelope struct {
	JSONRPC   string          `json:"jsonrpc,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	ID        json.RawMessage `json:"id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	SessionID string          `json:"mcpSessionId"`
	Source    string          `json:"source"`
}

// Inbound is an accepted envelope with the marker stripped.
type Inbound struct {
	Message *Message

	// SessionID is the sender's session as claimed by the envelope.
	SessionID session.ID

	// Source is the sender's kind tag.
	Source Kind
}

// Codec wraps and unwraps protocol messages for one transport.
type Codec struct {
	Kind    Kind
	Session session.ID
	Filter  FilterPolicy
}

// NewCodec creates a codec. An empty kind defaults to KindServer.
func NewCodec(kind Kind, sess session.ID, filter FilterPolicy) *Codec {
	if kind == "" {
		kind = KindServer
	}
	return &Codec{Kind: kind, Session: sess, Filter: filter}
}

// EncodeCall wraps a request or notification given by method and params.
// params may be nil, raw JSON, or any value json can marshal.
func (c *Codec) EncodeCall(method string, params interface{}) ([]byte, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return c.marshal(&Envelope{Method: Marker + method, Params: raw})
}

// Encode wraps a full protocol message. Messages with a method are tagged
// with the marker; responses travel without one.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	env := &Envelope{
		JSONRPC: msg.JSONRPC,
		ID:      msg.ID,
		Params:  msg.Params,
		Result:  msg.Result,
		Error:   msg.Error,
	}
	if msg.HasMethod() {
		env.Method = Marker + msg.Method
	}
	return c.marshal(env)
}

func (c *Codec) marshal(env *Envelope) ([]byte, error) {
	env.SessionID = string(c.Session)
	env.Source = string(c.Kind)
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode unwraps a raw inbound message. It never fails loudly: anything that
// is not an acceptable envelope comes back with a discard verdict.
//
// Keys are matched exactly; "METHOD" or "Source" are unknown members, not
// aliases. id, result and error are carried raw and never interpreted.
func (c *Codec) Decode(data []byte) (*Inbound, Verdict) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, DiscardMalformed
	}

	var env Envelope
	for key, dst := range map[string]*string{
		"jsonrpc":      &env.JSONRPC,
		"method":       &env.Method,
		"mcpSessionId": &env.SessionID,
		"source":       &env.Source,
	} {
		if !stringMember(fields, key, dst) {
			return nil, DiscardMalformed
		}
	}

	if c.isEcho(&env) {
		return nil, DiscardEcho
	}

	if !strings.HasPrefix(env.Method, Marker) {
		return nil, DiscardForeign
	}

	return &Inbound{
		Message: &Message{
			JSONRPC: env.JSONRPC,
			ID:      fields["id"],
			Method:  strings.TrimPrefix(env.Method, Marker),
			Params:  fields["params"],
			Result:  fields["result"],
			Error:   fields["error"],
		},
		SessionID: session.ID(env.SessionID),
		Source:    Kind(env.Source),
	}, Accept
}

// stringMember reads fields[key] into dst. A missing or null member leaves
// dst empty; any other non-string value reports false.
func stringMember(fields map[string]json.RawMessage, key string, dst *string) bool {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return true
	}
	return json.Unmarshal(raw, dst) == nil
}

func (c *Codec) isEcho(env *Envelope) bool {
	if env.Source != string(c.Kind) {
		return false
	}
	if c.Filter == FilterSession {
		return env.SessionID == string(c.Session)
	}
	return true
}
