package handler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"supportchat/server/model"
	"supportchat/server/room"
)

const (
	closeGracePeriod = time.Second
	maxPendingFrames = 1024
)

// wsConn is the room.Handle for one websocket. Writes are serialized by mu;
// Close may run concurrently and makes later writes fail with
// room.ErrHandleClosed.
//
// Until goLive, frames sent through Send are queued so nothing reaches the
// peer ahead of the connected and history frames written by the handshake.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	live      bool
	pending   []model.Outbound
	closed    atomic.Bool
	closeOnce sync.Once
	lastSeen  atomic.Int64
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	c := &wsConn{conn: conn, writeTimeout: writeTimeout}
	c.touch()
	return c
}

func (c *wsConn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *wsConn) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *wsConn) Send(frame model.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return room.ErrHandleClosed
	}
	if !c.live {
		if len(c.pending) >= maxPendingFrames {
			return fmt.Errorf("%w: handshake backlog full", room.ErrHandleClosed)
		}
		c.pending = append(c.pending, frame)
		return nil
	}
	return c.writeLocked(frame)
}

func (c *wsConn) write(frame model.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return room.ErrHandleClosed
	}
	return c.writeLocked(frame)
}

func (c *wsConn) writeLocked(frame model.Outbound) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", room.ErrHandleClosed, err)
	}
	return nil
}

// goLive flushes frames queued during the handshake, skipping messages the
// history replay already carried, and switches Send to direct writes.
func (c *wsConn) goLive(replayed map[string]struct{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = nil
	c.live = true
	if c.closed.Load() {
		return room.ErrHandleClosed
	}
	for _, frame := range pending {
		if m, ok := frame.(model.Message); ok {
			if _, dup := replayed[m.ID]; dup {
				continue
			}
		}
		if err := c.writeLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

// handshake is the handle used while the connected and history frames are
// written. It bypasses the queue and records which messages were replayed.
type handshake struct {
	*wsConn
	replayed map[string]struct{}
}

func (c *wsConn) handshake() *handshake {
	return &handshake{wsConn: c, replayed: make(map[string]struct{})}
}

func (h *handshake) Send(frame model.Outbound) error {
	if history, ok := frame.(model.History); ok {
		for _, m := range history.Messages {
			h.replayed[m.ID] = struct{}{}
		}
	}
	return h.write(frame)
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return room.ErrHandleClosed
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", room.ErrHandleClosed, err)
	}
	return nil
}

func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

// closeWith sends a close frame once and tears the socket down. It does not
// wait for an in-flight Send; closing the socket unblocks it.
func (c *wsConn) closeWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeGracePeriod))
		err = c.conn.Close()
	})
	return err
}
