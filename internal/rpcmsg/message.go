// Package rpcmsg defines the uniform JSON-RPC message record the proxy
// routes: one struct carrying every optional field a JSON-RPC 2.0 message
// can have, with predicates that classify it as request, notification, or
// response by field presence alone (spec.md §4.2).
package rpcmsg

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ProtocolVersion is the only JSON-RPC version this proxy speaks.
const ProtocolVersion = "2.0"

// Two error codes the core emits itself; every other code passes through
// untouched from whichever peer produced it.
const (
	CodeRequestCancelled = -32800
	CodeInternalError    = -32603
)

// ID is a JSON-RPC request id: either a number or a string, opaque to the
// proxy except for equality and hashing (spec.md §3). Unlike the LSP spec's
// non-negative convention, the proxy's own allocator (see ProxyIDAllocator)
// draws negative numbers, so Num is signed.
type ID struct {
	Num      int64
	Str      string
	IsString bool
}

func NumberID(n int64) ID { return ID{Num: n} }
func StringID(s string) ID { return ID{Str: s, IsString: true} }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsString {
		return json.Marshal(id.Str)
	}
	return json.Marshal(id.Num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var asNum int64
	if err := json.Unmarshal(data, &asNum); err == nil {
		id.Num = asNum
		id.IsString = false
		id.Str = ""
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err == nil {
		id.Str = asStr
		id.IsString = true
		id.Num = 0
		return nil
	}
	return fmt.Errorf("rpcmsg: id must be a JSON number or string, got %s", data)
}

func (id ID) String() string {
	if id.IsString {
		return id.Str
	}
	return strconv.FormatInt(id.Num, 10)
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int64            `json:"code"`
	Message string           `json:"message"`
	Data    *json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is a single record carrying every optional field a JSON-RPC 2.0
// message can have. Exactly one of the three predicates below is true for
// any well-formed message the proxy handles.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *ID              `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  *json.RawMessage `json:"params,omitempty"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// IsRequest reports whether m carries both an id and a method.
func (m *Message) IsRequest() bool {
	return m.ID != nil && m.Method != ""
}

// IsNotification reports whether m carries a method but no id.
func (m *Message) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// IsResponse reports whether m carries an id but no method.
func (m *Message) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// Clone returns a shallow copy of m suitable for mutating the ID before
// re-forwarding. Params/Result RawMessage bytes are shared, which is safe
// since the proxy never mutates them after unmarshalling.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// NewRequest builds a request-shaped message.
func NewRequest(id ID, method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: ProtocolVersion, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification-shaped message (no id).
func NewNotification(method string, params interface{}) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: ProtocolVersion, Method: method, Params: raw}, nil
}

// NewResultResponse builds a response-shaped message carrying a result.
func NewResultResponse(id ID, result interface{}) (*Message, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: ProtocolVersion, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response to req using the proxy's generic
// internal-error code (spec.md §4.2, §7).
func NewErrorResponse(req *Message, message string) *Message {
	return &Message{
		JSONRPC: ProtocolVersion,
		ID:      req.ID,
		Error:   &Error{Code: CodeInternalError, Message: message},
	}
}

// NewCancelledResponse builds an error response using the protocol's
// request-cancelled code, used when the proxy itself cancels a pending
// request on eviction or crash (spec.md §4.11).
func NewCancelledResponse(id ID, message string) *Message {
	return &Message{
		JSONRPC: ProtocolVersion,
		ID:      &id,
		Error:   &Error{Code: CodeRequestCancelled, Message: message},
	}
}

// NewRequestRaw builds a request carrying params that have already been
// marshaled (or decoded straight off the wire), avoiding a redundant
// marshal/unmarshal round trip when re-forwarding a peer's own params.
func NewRequestRaw(id ID, method string, params *json.RawMessage) *Message {
	return &Message{JSONRPC: ProtocolVersion, ID: &id, Method: method, Params: params}
}

// NewNotificationRaw mirrors NewRequestRaw for notifications.
func NewNotificationRaw(method string, params *json.RawMessage) *Message {
	return &Message{JSONRPC: ProtocolVersion, Method: method, Params: params}
}

func marshalParams(v interface{}) (*json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(b)
	return &raw, nil
}

// ProxyIDAllocator draws proxy-facing ids from a strictly decreasing
// negative sequence, so two backends re-emitting requests toward the client
// can never collide in the client's id space (spec.md §3, §8, §9).
type ProxyIDAllocator struct {
	next int64
}

func NewProxyIDAllocator() *ProxyIDAllocator {
	return &ProxyIDAllocator{next: 0}
}

// Alloc returns the next id in the sequence: -1, -2, -3, ...
func (a *ProxyIDAllocator) Alloc() ID {
	a.next--
	return NumberID(a.next)
}
