package relay

import "encoding/json"

// MessageType identifies the kind of relay message.
type MessageType string

const (
	// Client to server messages.
	MessageTypeSubscribe   MessageType = "subscribe"   // attach to a path or pattern
	MessageTypeUnsubscribe MessageType = "unsubscribe" // detach from a pattern
	MessageTypePublish     MessageType = "publish"     // broadcast a transient payload
	MessageTypeLease       MessageType = "lease"       // write/refresh an expiring record
	MessageTypeDelete      MessageType = "delete"      // drop a leased record
	MessageTypeList        MessageType = "list"        // read current records under a prefix

	// Server to client messages.
	MessageTypeEvent MessageType = "event" // pushed broadcast/lease activity
	MessageTypeState MessageType = "state" // response to a list request
	MessageTypeError MessageType = "error"
)

// Message is the envelope for all relay communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// SubscribePayload attaches or detaches a pattern. A trailing "*" matches
// every path under the prefix.
type SubscribePayload struct {
	Pattern string `json:"pattern"`
}

// PublishPayload broadcasts data on a path.
type PublishPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// LeasePayload writes a record the store expires after TTLMillis.
type LeasePayload struct {
	Path      string          `json:"path"`
	Data      json.RawMessage `json:"data"`
	TTLMillis int64           `json:"ttlMs"`
}

// DeletePayload drops a leased record.
type DeletePayload struct {
	Path string `json:"path"`
}

// ListPayload requests the live records under a prefix.
type ListPayload struct {
	Prefix string `json:"prefix"`
}

// EventPayload pushes store activity to a subscriber. Data is absent when
// the record at the path was deleted or expired.
type EventPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StatePayload answers a list request.
type StatePayload struct {
	Prefix  string                     `json:"prefix"`
	Records map[string]json.RawMessage `json:"records"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeOutOfScope     = "out_of_scope"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInternalError  = "internal_error"
)
