package model

import "time"

// Role is the participant kind resolved for a connected identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

// ChatMessage is a single persisted utterance. ConversationOwnerID is always
// the non-admin participant of the conversation.
type ChatMessage struct {
	ID                  string
	ConversationOwnerID string
	SenderRole          Role
	SenderAdminID       string
	Text                string
	CreatedAt           time.Time
	IsRead              bool

	// UserName labels the conversation owner; filled in by the relay, not stored.
	UserName string
}

// WireMessage is the client-facing shape of a ChatMessage.
type WireMessage struct {
	ID        string    `json:"id"`
	Sender    Role      `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
}

// ToWire converts a stored message into its outbound representation.
func ToWire(m ChatMessage) WireMessage {
	w := WireMessage{
		ID:        m.ID,
		Sender:    m.SenderRole,
		Message:   m.Text,
		Timestamp: m.CreatedAt,
		UserID:    m.ConversationOwnerID,
	}
	if m.SenderRole == RoleUser {
		w.UserName = m.UserName
	}
	return w
}
