package model

import (
	"encoding/json"
	"time"
)

const (
	KindUser  = "user"
	KindAdmin = "admin"
)

const (
	FrameConnected   = "connected"
	FrameHistory     = "history"
	FrameMessage     = "message"
	FrameUnreadCount = "unread_count"
	FrameError       = "error"
)

// Message is one unit of load: a sender identity and the text it posts.
// Admin messages carry the user whose conversation they answer.
type Message struct {
	SenderID     string
	Kind         string
	Text         string
	TargetUserID string
}

// OwnerID is the conversation the message lands in.
func (m Message) OwnerID() string {
	if m.Kind == KindAdmin {
		return m.TargetUserID
	}
	return m.SenderID
}

// Envelope is the inbound frame the relay accepts for posting.
type Envelope struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

func (m Message) Envelope() Envelope {
	env := Envelope{Type: FrameMessage, Message: m.Text}
	if m.Kind == KindAdmin {
		env.TargetUserID = m.TargetUserID
	}
	return env
}

// Frame is any frame the relay pushes. Message is an object for message
// frames and a string for error frames.
type Frame struct {
	Type    string          `json:"type"`
	IsAdmin bool            `json:"isAdmin,omitempty"`
	Count   int             `json:"count,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Delivered is the payload of a message frame.
type Delivered struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
}
