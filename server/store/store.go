// Package store persists chat messages. Conversations are keyed by the
// non-admin participant; ordering is by created_at then insertion order.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"supportchat/server/model"
)

// ErrNotFound is returned by Get for an unknown message id.
var ErrNotFound = errors.New("store: message not found")

// NewMessage is the caller-supplied part of a ChatMessage. The store assigns
// ID, CreatedAt and IsRead.
type NewMessage struct {
	ConversationOwnerID string
	SenderRole          model.Role
	SenderAdminID       string
	Text                string
}

// MessageStore is the durable append-only message table.
type MessageStore interface {
	Append(ctx context.Context, msg NewMessage) (model.ChatMessage, error)
	Get(ctx context.Context, id string) (model.ChatMessage, error)
	// Conversation returns the latest limit messages of one conversation in
	// ascending order.
	Conversation(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error)
	// Recent returns the latest limit messages across all conversations in
	// ascending order.
	Recent(ctx context.Context, limit int) ([]model.ChatMessage, error)
	// MarkRead flips is_read to true for the given ids that are still unread
	// and returns how many changed.
	MarkRead(ctx context.Context, ids []string) (int, error)
	CountUnread(ctx context.Context, ownerID string, senderRole model.Role) (int, error)
	Close() error
}

func newMessageID() string {
	return uuid.NewString()
}

// clock hands out non-decreasing timestamps at microsecond precision so SQL
// backends round-trip them exactly.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

func (c *clock) advanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t.UTC()
	}
}

func validateNew(msg NewMessage) error {
	switch {
	case msg.ConversationOwnerID == "":
		return errors.New("store: conversation owner is required")
	case !msg.SenderRole.Valid():
		return errors.New("store: invalid sender role")
	case msg.SenderRole == model.RoleAdmin && msg.SenderAdminID == "":
		return errors.New("store: admin messages require sender admin id")
	case msg.Text == "":
		return errors.New("store: message text is required")
	}
	return nil
}
