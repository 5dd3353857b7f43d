package store

import (
	"context"
	"sync"

	"supportchat/server/model"
)

// MemoryStore keeps messages in process, in insertion order.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []model.ChatMessage
	byID     map[string]int
	clock    *clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]int),
		clock: newClock(),
	}
}

func (m *MemoryStore) Append(ctx context.Context, msg NewMessage) (model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatMessage{}, err
	}
	if err := validateNew(msg); err != nil {
		return model.ChatMessage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := model.ChatMessage{
		ID:                  newMessageID(),
		ConversationOwnerID: msg.ConversationOwnerID,
		SenderRole:          msg.SenderRole,
		SenderAdminID:       msg.SenderAdminID,
		Text:                msg.Text,
		CreatedAt:           m.clock.next(),
	}
	m.byID[stored.ID] = len(m.messages)
	m.messages = append(m.messages, stored)
	return stored, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatMessage{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return model.ChatMessage{}, ErrNotFound
	}
	return m.messages[idx], nil
}

func (m *MemoryStore) Conversation(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.ChatMessage
	for _, msg := range m.messages {
		if msg.ConversationOwnerID == ownerID {
			res = append(res, msg)
		}
	}
	return tail(res, limit), nil
}

func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]model.ChatMessage, len(m.messages))
	copy(res, m.messages)
	return tail(res, limit), nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, id := range ids {
		idx, ok := m.byID[id]
		if !ok || m.messages[idx].IsRead {
			continue
		}
		m.messages[idx].IsRead = true
		changed++
	}
	return changed, nil
}

func (m *MemoryStore) CountUnread(ctx context.Context, ownerID string, senderRole model.Role) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, msg := range m.messages {
		if msg.ConversationOwnerID == ownerID && msg.SenderRole == senderRole && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Close() error { return nil }

func tail(messages []model.ChatMessage, limit int) []model.ChatMessage {
	if limit > 0 && len(messages) > limit {
		return messages[len(messages)-limit:]
	}
	return messages
}
