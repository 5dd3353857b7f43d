package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound and outbound discriminants.
const (
	TypeLoadHistory = "load_history"
	TypeMessage     = "message"
	TypeConnected   = "connected"
	TypeHistory     = "history"
	TypeUnreadCount = "unread_count"
	TypeError       = "error"
)

// ErrMalformedEnvelope is returned when a frame is not a JSON object with a
// string "type" field, or a known type carries fields of the wrong shape.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Inbound is a decoded client frame. The set of implementations is closed.
type Inbound interface {
	inbound()
}

// LoadHistory asks the relay to replay the caller's history.
type LoadHistory struct{}

// PostMessage submits a new message. TargetUserID is only meaningful for admins.
type PostMessage struct {
	Text         string
	TargetUserID string
}

// Unrecognized is any well-formed frame whose type the relay does not handle.
type Unrecognized struct {
	Type string
}

func (LoadHistory) inbound()  {}
func (PostMessage) inbound()  {}
func (Unrecognized) inbound() {}

type inboundFrame struct {
	Type         *string `json:"type"`
	Message      string  `json:"message"`
	TargetUserID string  `json:"targetUserId"`
}

// DecodeInbound parses one client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedEnvelope)
	}
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if frame.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	switch *frame.Type {
	case TypeLoadHistory:
		return LoadHistory{}, nil
	case TypeMessage:
		return PostMessage{Text: frame.Message, TargetUserID: frame.TargetUserID}, nil
	default:
		return Unrecognized{Type: *frame.Type}, nil
	}
}

// Outbound is a frame sent by the relay. Each implementation marshals itself
// with its "type" discriminant.
type Outbound interface {
	json.Marshaler
	OutboundType() string
}

// Connected is sent once after a connection is registered.
type Connected struct {
	IsAdmin bool
}

// History carries a replayed message window.
type History struct {
	Messages []WireMessage
}

// Message carries one newly accepted message.
type Message struct {
	WireMessage
}

// UnreadCount reports how many admin messages were unread before replay.
type UnreadCount struct {
	Count int
}

// Error reports a rejected frame to its sender.
type Error struct {
	Message string
}

func (Connected) OutboundType() string   { return TypeConnected }
func (History) OutboundType() string     { return TypeHistory }
func (Message) OutboundType() string     { return TypeMessage }
func (UnreadCount) OutboundType() string { return TypeUnreadCount }
func (Error) OutboundType() string       { return TypeError }

func (c Connected) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		IsAdmin bool   `json:"isAdmin"`
	}{TypeConnected, c.IsAdmin})
}

func (h History) MarshalJSON() ([]byte, error) {
	messages := h.Messages
	if messages == nil {
		messages = []WireMessage{}
	}
	return json.Marshal(struct {
		Type     string        `json:"type"`
		Messages []WireMessage `json:"messages"`
	}{TypeHistory, messages})
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		WireMessage
	}{TypeMessage, m.WireMessage})
}

func (u UnreadCount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}{TypeUnreadCount, u.Count})
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{TypeError, e.Message})
}

// NewHistory converts stored messages into a history frame.
func NewHistory(messages []ChatMessage) History {
	wire := make([]WireMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, ToWire(m))
	}
	return History{Messages: wire}
}
