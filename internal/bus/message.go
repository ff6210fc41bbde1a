package bus

import (
	"encoding/json"
	"fmt"
)

// Well-known names of the crash daemon service.
const (
	ServiceName = "org.crashd.daemon"
	ObjectPath  = "/org/crashd/daemon"
	Interface   = "org.crashd.daemon"
)

// MemberHello is the first call on every connection.
const MemberHello = "Hello"

// Error names carried in error replies.
const (
	ErrorFailed        = "org.crashd.Error.Failed"
	ErrorAccessDenied  = "org.crashd.Error.AccessDenied"
	ErrorInvalidArgs   = "org.crashd.Error.InvalidArgs"
	ErrorUnknownMethod = "org.crashd.Error.UnknownMethod"
)

// MessageType distinguishes the four kinds of bus message.
type MessageType string

const (
	TypeCall   MessageType = "call"
	TypeReturn MessageType = "return"
	TypeError  MessageType = "error"
	TypeSignal MessageType = "signal"
)

// Message is one frame on the wire.
type Message struct {
	Type        MessageType     `json:"type"`
	Serial      uint64          `json:"serial"`
	ReplySerial uint64          `json:"reply_serial,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Member      string          `json:"member,omitempty"`
	ErrorName   string          `json:"error_name,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Body) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", m.Member, err)
	}
	return nil
}

func encodeBody(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return data, nil
}

// RemoteError is an error reply received for a call.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// errorBody is the payload of an error reply.
type errorBody struct {
	Message string `json:"message"`
}
