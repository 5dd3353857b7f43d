package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"supportchat/server/chat"
	"supportchat/server/identity"
	"supportchat/server/model"
	"supportchat/server/room"
)

const (
	identityQueryParam     = "userId"
	identityHeader         = "X-User-Id"
	defaultWriteTimeout    = 10 * time.Second
	defaultMaxMessageBytes = 8192
)

// Options configures the websocket transport.
type Options struct {
	AllowedOrigins  []string
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// WebSocketHandler accepts relay connections and binds them to the router.
type WebSocketHandler struct {
	resolver identity.Resolver
	registry *room.Registry
	router   *chat.Router
	replayer *chat.Replayer
	logger   *slog.Logger
	upgrader websocket.Upgrader
	opts     Options

	active  sync.WaitGroup
	closing atomic.Bool
}

func NewWebSocketHandler(resolver identity.Resolver, registry *room.Registry, router *chat.Router, replayer *chat.Replayer, opts Options, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	return &WebSocketHandler{
		resolver: resolver,
		registry: registry,
		router:   router,
		replayer: replayer,
		logger:   logger,
		upgrader: newUpgrader(opts.AllowedOrigins),
		opts:     opts,
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	origins := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		origins[origin] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origins[origin]
		},
	}
}

// identityFromRequest reads the caller identity established by the
// surrounding application.
func identityFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get(identityQueryParam)); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(identityHeader))
}

// Shutdown closes every registered connection and waits for their handlers
// to return. Hijacked connections are invisible to http.Server.Shutdown, so
// callers run this after it and before releasing the store.
func (h *WebSocketHandler) Shutdown(ctx context.Context) error {
	h.closing.Store(true)
	h.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.active.Add(1)
	defer h.active.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	wc := newWSConn(conn, h.opts.WriteTimeout)
	defer wc.Close()

	ctx := r.Context()
	ident, err := h.resolver.Resolve(ctx, identityFromRequest(r))
	if err != nil {
		if errors.Is(err, identity.ErrUnresolved) {
			h.logger.Info("connection refused", "remote", r.RemoteAddr, "error", err)
		} else {
			h.logger.Error("identity lookup failed", "remote", r.RemoteAddr, "error", err)
		}
		_ = wc.closeWith(websocket.ClosePolicyViolation, "identity could not be resolved")
		return
	}

	logger := h.logger.With("identity", ident.ID, "role", string(ident.Role))
	p := chat.Participant{Identity: ident, Handle: wc}

	h.registry.Register(ident.ID, ident.Role, wc)
	defer func() {
		if h.registry.Release(ident.ID, wc) {
			logger.Info("connection closed")
		}
	}()
	logger.Info("connection registered")
	// Registered after Shutdown's CloseAll.
	if h.closing.Load() {
		return
	}

	hs := wc.handshake()
	if err := hs.Send(model.Connected{IsAdmin: ident.Role.IsAdmin()}); err != nil {
		return
	}
	if err := h.replayer.Deliver(ctx, chat.Participant{Identity: ident, Handle: hs}); err != nil {
		logger.Warn("initial history replay failed", "error", err)
		_ = hs.Send(model.Error{Message: "failed to load history"})
	}
	if err := wc.goLive(hs.replayed); err != nil {
		return
	}

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	conn.SetPongHandler(func(string) error {
		wc.touch()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read error", "error", err)
			}
			return
		}
		wc.touch()
		_ = h.router.Dispatch(ctx, p, data)
	}
}
