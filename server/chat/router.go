// Package chat routes inbound support-chat frames: it validates, persists,
// and fans messages out to live connections, and replays history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"supportchat/server/identity"
	"supportchat/server/model"
	"supportchat/server/room"
	"supportchat/server/store"
)

const (
	DefaultMaxMessageRunes  = 2000
	conversationLockStripes = 64
)

// Participant is a registered connection as seen by the router.
type Participant struct {
	identity.Identity
	Handle room.Handle
}

// RouterOptions configures a Router.
type RouterOptions struct {
	MaxMessageRunes int
}

// Router handles frames from every connection. Persistence and fan-out of a
// message happen under its conversation's lock, so each observer sees a
// conversation in created_at order.
type Router struct {
	store    store.MessageStore
	registry *room.Registry
	replayer *Replayer
	logger   *slog.Logger
	maxRunes int
	locks    [conversationLockStripes]sync.Mutex
}

func NewRouter(s store.MessageStore, registry *room.Registry, replayer *Replayer, opts RouterOptions, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	maxRunes := opts.MaxMessageRunes
	if maxRunes <= 0 {
		maxRunes = DefaultMaxMessageRunes
	}
	return &Router{
		store:    s,
		registry: registry,
		replayer: replayer,
		logger:   logger,
		maxRunes: maxRunes,
	}
}

// Dispatch handles one raw frame from p. Any rejection is reported to p as a
// single error frame and returned; the connection stays usable.
func (r *Router) Dispatch(ctx context.Context, p Participant, frame []byte) error {
	err := r.dispatch(ctx, p, frame)
	if err != nil {
		r.reject(p, err)
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, p Participant, frame []byte) error {
	inbound, err := model.DecodeInbound(frame)
	if err != nil {
		return err
	}
	switch env := inbound.(type) {
	case model.LoadHistory:
		return r.replayer.Deliver(ctx, p)
	case model.PostMessage:
		_, err := r.Post(ctx, p, env)
		return err
	case model.Unrecognized:
		r.logger.Debug("ignoring frame", "identity", p.ID, "type", env.Type)
		return nil
	default:
		return fmt.Errorf("%w: unhandled frame %T", ErrMalformedEnvelope, inbound)
	}
}

// Post validates, persists and fans out one message. Delivery failures are
// not errors; the message stays stored for the recipient's next replay.
func (r *Router) Post(ctx context.Context, p Participant, env model.PostMessage) (model.ChatMessage, error) {
	owner := p.ID
	if p.Role.IsAdmin() {
		owner = strings.TrimSpace(env.TargetUserID)
		if owner == "" {
			return model.ChatMessage{}, ErrMissingTarget
		}
		if err := r.checkTarget(ctx, p, owner); err != nil {
			return model.ChatMessage{}, err
		}
	}
	text := strings.TrimSpace(env.Text)
	if text == "" {
		return model.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > r.maxRunes {
		return model.ChatMessage{}, ErrMessageTooLong
	}

	unlock := r.lockConversation(owner)
	defer unlock()

	msg := store.NewMessage{
		ConversationOwnerID: owner,
		SenderRole:          p.Role,
		Text:                text,
	}
	if p.Role.IsAdmin() {
		msg.SenderAdminID = p.ID
	}
	stored, err := r.store.Append(ctx, msg)
	if err != nil {
		r.logger.Error("persist message", "identity", p.ID, "conversation", owner, "error", err)
		return model.ChatMessage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if p.Role.IsAdmin() {
		r.fanOutFromAdmin(ctx, p, &stored)
	} else {
		stored.UserName = p.DisplayName
		r.fanOutFromUser(p, stored)
	}
	return stored, nil
}

// checkTarget keeps conversations anchored to users. Ids the resolver does
// not know are accepted as new conversations.
func (r *Router) checkTarget(ctx context.Context, p Participant, owner string) error {
	if owner == p.ID {
		return ErrInvalidTarget
	}
	if r.replayer == nil || r.replayer.names == nil {
		return nil
	}
	target, err := r.replayer.names.Resolve(ctx, owner)
	switch {
	case errors.Is(err, identity.ErrUnresolved):
		return nil
	case err != nil:
		return fmt.Errorf("%w: resolve %s: %v", ErrInvalidTarget, owner, err)
	case target.Role.IsAdmin():
		return ErrInvalidTarget
	}
	return nil
}

func (r *Router) fanOutFromUser(p Participant, msg model.ChatMessage) {
	frame := model.Message{WireMessage: model.ToWire(msg)}
	r.deliver(p.ID, p.Handle, frame)
	for _, admin := range r.registry.AdminEntries() {
		r.deliver(admin.Identity, admin.Handle, frame)
	}
}

func (r *Router) fanOutFromAdmin(ctx context.Context, p Participant, msg *model.ChatMessage) {
	frame := model.Message{WireMessage: model.ToWire(*msg)}
	if handle, ok := r.registry.Lookup(msg.ConversationOwnerID); ok {
		if r.deliver(msg.ConversationOwnerID, handle, frame) {
			if _, err := r.store.MarkRead(ctx, []string{msg.ID}); err != nil {
				r.logger.Warn("mark delivered message read", "message_id", msg.ID, "error", err)
			} else {
				msg.IsRead = true
			}
		}
	}
	r.deliver(p.ID, p.Handle, frame)
}

func (r *Router) deliver(id string, h room.Handle, frame model.Outbound) bool {
	if h == nil {
		return false
	}
	if err := h.Send(frame); err != nil {
		r.logger.Debug("recipient unreachable", "identity", id, "error", err)
		return false
	}
	return true
}

func (r *Router) reject(p Participant, err error) {
	level := slog.LevelDebug
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrHistory) {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "frame rejected", "identity", p.ID, "error", err)
	if p.Handle != nil {
		_ = p.Handle.Send(model.Error{Message: clientMessage(err)})
	}
}

func (r *Router) lockConversation(owner string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	mu := &r.locks[h.Sum32()%conversationLockStripes]
	mu.Lock()
	return mu.Unlock
}
