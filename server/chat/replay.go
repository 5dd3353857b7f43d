package chat

import (
	"context"
	"fmt"
	"log/slog"

	"supportchat/server/identity"
	"supportchat/server/model"
	"supportchat/server/store"
)

const (
	DefaultUserHistoryLimit  = 500
	DefaultAdminHistoryLimit = 100
)

// Replay is the outcome of one history load.
type Replay struct {
	Messages []model.ChatMessage
	// Unread counts admin messages that were unread before this replay.
	Unread int
}

// Replayer loads history windows for connecting participants.
type Replayer struct {
	store      store.MessageStore
	names      identity.Resolver
	userLimit  int
	adminLimit int
	logger     *slog.Logger
}

// ReplayerOptions bounds the history windows. Zero values use the defaults.
type ReplayerOptions struct {
	UserLimit  int
	AdminLimit int
}

func NewReplayer(s store.MessageStore, names identity.Resolver, opts ReplayerOptions, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UserLimit <= 0 {
		opts.UserLimit = DefaultUserHistoryLimit
	}
	if opts.AdminLimit <= 0 {
		opts.AdminLimit = DefaultAdminHistoryLimit
	}
	return &Replayer{
		store:      s,
		names:      names,
		userLimit:  opts.UserLimit,
		adminLimit: opts.AdminLimit,
		logger:     logger,
	}
}

// Replay returns the history window for id. A user's replay marks the admin
// messages it returns as read; an admin's replay never changes read state.
func (r *Replayer) Replay(ctx context.Context, id string, role model.Role) (Replay, error) {
	if role.IsAdmin() {
		messages, err := r.store.Recent(ctx, r.adminLimit)
		if err != nil {
			return Replay{}, fmt.Errorf("%w: %v", ErrHistory, err)
		}
		r.labelOwners(ctx, messages)
		return Replay{Messages: messages}, nil
	}

	messages, err := r.store.Conversation(ctx, id, r.userLimit)
	if err != nil {
		return Replay{}, fmt.Errorf("%w: %v", ErrHistory, err)
	}
	var unread []string
	for _, msg := range messages {
		if msg.SenderRole == model.RoleAdmin && !msg.IsRead {
			unread = append(unread, msg.ID)
		}
	}
	if len(unread) > 0 {
		if _, err := r.store.MarkRead(ctx, unread); err != nil {
			return Replay{}, fmt.Errorf("%w: mark read: %v", ErrHistory, err)
		}
		for i := range messages {
			if messages[i].SenderRole == model.RoleAdmin {
				messages[i].IsRead = true
			}
		}
	}
	return Replay{Messages: messages, Unread: len(unread)}, nil
}

// Deliver replays history to p and, for users with unread admin messages,
// follows it with an unread_count frame.
func (r *Replayer) Deliver(ctx context.Context, p Participant) error {
	replay, err := r.Replay(ctx, p.ID, p.Role)
	if err != nil {
		return err
	}
	if err := p.Handle.Send(model.NewHistory(replay.Messages)); err != nil {
		r.logger.Debug("history not delivered", "identity", p.ID, "error", err)
		return nil
	}
	if !p.Role.IsAdmin() && replay.Unread > 0 {
		_ = p.Handle.Send(model.UnreadCount{Count: replay.Unread})
	}
	return nil
}

func (r *Replayer) labelOwners(ctx context.Context, messages []model.ChatMessage) {
	if r.names == nil {
		return
	}
	names := make(map[string]string)
	for i := range messages {
		if messages[i].SenderRole != model.RoleUser {
			continue
		}
		owner := messages[i].ConversationOwnerID
		name, ok := names[owner]
		if !ok {
			if ident, err := r.names.Resolve(ctx, owner); err == nil {
				name = ident.DisplayName
			} else {
				r.logger.Debug("owner name lookup failed", "identity", owner, "error", err)
			}
			names[owner] = name
		}
		messages[i].UserName = name
	}
}
