package chat

import (
	"context"
	"errors"
	"testing"

	"supportchat/server/identity"
	"supportchat/server/model"
	"supportchat/server/store"
)

type brokenReadStore struct {
	store.MessageStore
}

func (brokenReadStore) Recent(context.Context, int) ([]model.ChatMessage, error) {
	return nil, errors.New("connection reset")
}

func seed(t *testing.T, s store.MessageStore, msgs ...store.NewMessage) []model.ChatMessage {
	t.Helper()
	var out []model.ChatMessage
	for _, m := range msgs {
		stored, err := s.Append(context.Background(), m)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		out = append(out, stored)
	}
	return out
}

func TestUserReplayMarksAdminMessagesRead(t *testing.T) {
	s := store.NewMemoryStore()
	seeded := seed(t, s,
		store.NewMessage{ConversationOwnerID: "u1", SenderRole: model.RoleUser, Text: "help"},
		store.NewMessage{ConversationOwnerID: "u1", SenderRole: model.RoleAdmin, SenderAdminID: "a1", Text: "sure"},
		store.NewMessage{ConversationOwnerID: "u1", SenderRole: model.RoleAdmin, SenderAdminID: "a1", Text: "anything else?"},
		store.NewMessage{ConversationOwnerID: "u2", SenderRole: model.RoleAdmin, SenderAdminID: "a1", Text: "other room"},
	)
	r := NewReplayer(s, nil, ReplayerOptions{}, nil)

	replay, err := r.Replay(context.Background(), "u1", model.RoleUser)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replay.Messages) != 3 || replay.Unread != 2 {
		t.Fatalf("expected 3 messages with 2 unread, got %d/%d", len(replay.Messages), replay.Unread)
	}
	if n, _ := s.CountUnread(context.Background(), "u1", model.RoleAdmin); n != 0 {
		t.Fatalf("expected u1 admin messages read, %d left", n)
	}
	if other, _ := s.Get(context.Background(), seeded[3].ID); other.IsRead {
		t.Fatal("replay must not touch other conversations")
	}
	if user, _ := s.Get(context.Background(), seeded[0].ID); user.IsRead {
		t.Fatal("user messages are not marked by the user's own replay")
	}

	again, err := r.Replay(context.Background(), "u1", model.RoleUser)
	if err != nil || again.Unread != 0 {
		t.Fatalf("second replay should report nothing unread, got %d (%v)", again.Unread, err)
	}
}

func TestAdminReplayIsReadOnlyAndLabelled(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s,
		store.NewMessage{ConversationOwnerID: "u1", SenderRole: model.RoleUser, Text: "hi"},
		store.NewMessage{ConversationOwnerID: "u2", SenderRole: model.RoleUser, Text: "hello"},
		store.NewMessage{ConversationOwnerID: "u1", SenderRole: model.RoleAdmin, SenderAdminID: "a1", Text: "welcome"},
	)
	names := identity.NewStaticResolver(nil, map[string]string{"u1": "Ann", "u2": "Bob"})
	r := NewReplayer(s, names, ReplayerOptions{AdminLimit: 10}, nil)

	replay, err := r.Replay(context.Background(), "a1", model.RoleAdmin)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replay.Messages) != 3 || replay.Unread != 0 {
		t.Fatalf("unexpected admin replay %#v", replay)
	}
	if replay.Messages[0].UserName != "Ann" || replay.Messages[1].UserName != "Bob" {
		t.Fatalf("expected user rows labelled, got %#v", replay.Messages)
	}
	if n, _ := s.CountUnread(context.Background(), "u1", model.RoleAdmin); n != 1 {
		t.Fatal("admin replay must not mark messages read")
	}
}

func TestReplayWindows(t *testing.T) {
	s := store.NewMemoryStore()
	for i := 0; i < 5; i++ {
		seed(t, s, store.NewMessage{ConversationOwnerID: "u1", SenderRole: model.RoleUser, Text: "x"})
	}
	r := NewReplayer(s, nil, ReplayerOptions{UserLimit: 3, AdminLimit: 2}, nil)

	user, _ := r.Replay(context.Background(), "u1", model.RoleUser)
	admin, _ := r.Replay(context.Background(), "a1", model.RoleAdmin)
	if len(user.Messages) != 3 || len(admin.Messages) != 2 {
		t.Fatalf("unexpected window sizes %d/%d", len(user.Messages), len(admin.Messages))
	}
}

func TestDeliverReportsStoreFailure(t *testing.T) {
	r := NewReplayer(brokenReadStore{store.NewMemoryStore()}, nil, ReplayerOptions{}, nil)
	h := &recordingHandle{}
	p := Participant{Identity: identity.Identity{ID: "a1", Role: model.RoleAdmin}, Handle: h}
	if err := r.Deliver(context.Background(), p); !errors.Is(err, ErrHistory) {
		t.Fatalf("expected ErrHistory, got %v", err)
	}
	if len(h.snapshot()) != 0 {
		t.Fatal("Deliver leaves error reporting to the router")
	}
}

func TestDeliverSkipsUnreadCountWhenNothingUnread(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, store.NewMessage{ConversationOwnerID: "u1", SenderRole: model.RoleUser, Text: "hi"})
	r := NewReplayer(s, nil, ReplayerOptions{}, nil)
	h := &recordingHandle{}
	p := Participant{Identity: identity.Identity{ID: "u1", Role: model.RoleUser}, Handle: h}
	if err := r.Deliver(context.Background(), p); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	frames := h.snapshot()
	if len(frames) != 1 {
		t.Fatalf("expected only the history frame, got %#v", frames)
	}
}
