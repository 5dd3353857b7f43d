package pool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"supportchat/client/metrics"
	"supportchat/client/model"
	"supportchat/server/chat"
	"supportchat/server/handler"
	"supportchat/server/identity"
	"supportchat/server/room"
	"supportchat/server/store"
)

func startRelay(t *testing.T) (string, store.MessageStore) {
	t.Helper()
	s := store.NewMemoryStore()
	resolver := identity.NewStaticResolver([]string{"a1"}, nil)
	registry := room.NewRegistry(nil)
	replayer := chat.NewReplayer(s, resolver, chat.ReplayerOptions{}, nil)
	router := chat.NewRouter(s, registry, replayer, chat.RouterOptions{MaxMessageRunes: 40}, nil)

	r := mux.NewRouter()
	r.Handle("/ws", handler.NewWebSocketHandler(resolver, registry, router, replayer, handler.Options{}, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return strings.TrimPrefix(srv.URL, "http://"), s
}

func runPool(t *testing.T, host string, workers int, msgs ...model.Message) *metrics.Collector {
	t.Helper()
	collector, err := metrics.NewCollector(t.TempDir() + "/results.csv")
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	collector.Start()

	input := make(chan model.Message, len(msgs))
	for _, msg := range msgs {
		input <- msg
	}
	close(input)

	NewPool(workers, input, collector, host, nil).Run()
	collector.Close()
	<-collector.Done
	return collector
}

func TestPoolDeliversUserAndAdminMessages(t *testing.T) {
	host, s := startRelay(t)

	stats := runPool(t, host, 3,
		model.Message{SenderID: "u1", Kind: model.KindUser, Text: "hello (#1)"},
		model.Message{SenderID: "u2", Kind: model.KindUser, Text: "hello (#2)"},
		model.Message{SenderID: "a1", Kind: model.KindAdmin, Text: "hi u1 (#3)", TargetUserID: "u1"},
		model.Message{SenderID: "u1", Kind: model.KindUser, Text: "thanks (#4)"},
	).Stats

	if stats.SuccessCount != 4 || stats.FailCount != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.TotalConnections != 3 {
		t.Fatalf("expected one connection per identity, got %d", stats.TotalConnections)
	}

	history, err := s.Conversation(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 stored messages for u1, got %d", len(history))
	}
}

func TestPoolRecordsRejectionWithoutRetry(t *testing.T) {
	host, _ := startRelay(t)

	start := time.Now()
	stats := runPool(t, host, 1,
		model.Message{SenderID: "u1", Kind: model.KindUser, Text: strings.Repeat("x", 41)},
		model.Message{SenderID: "u1", Kind: model.KindUser, Text: "short (#2)"},
	).Stats

	if stats.FailCount != 1 || stats.RetryCount != 0 || stats.SuccessCount != 1 {
		t.Fatalf("a rejected message should fail once, got %+v", stats)
	}
	if stats.TotalConnections != 1 {
		t.Fatalf("a rejection should keep the connection, got %d connections", stats.TotalConnections)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("rejection should not back off")
	}
}

// floodingRelay answers the handshake, then pushes noise frames ahead of
// every echo, the way a busy admin connection sees other conversations.
func floodingRelay(t *testing.T, noise int, posts *atomic.Int32) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"type": "connected", "isAdmin": true})
		_ = conn.WriteJSON(map[string]any{"type": "history", "messages": []any{}})
		for {
			var env model.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			posts.Add(1)
			for i := 0; i < noise; i++ {
				other := model.Delivered{ID: fmt.Sprintf("n%d", i), Sender: "user", Message: "noise", UserID: "u9"}
				if err := conn.WriteJSON(map[string]any{"type": "message", "message": other}); err != nil {
					return
				}
			}
			echo := model.Delivered{ID: "echo", Sender: "admin", Message: env.Message, UserID: env.TargetUserID}
			_ = conn.WriteJSON(map[string]any{"type": "message", "message": echo})
		}
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestEchoIsFoundBehindFanOutBurst(t *testing.T) {
	var posts atomic.Int32
	host := floodingRelay(t, 2000, &posts)

	stats := runPool(t, host, 1,
		model.Message{SenderID: "a1", Kind: model.KindAdmin, Text: "hi (#1)", TargetUserID: "u1"},
		model.Message{SenderID: "a1", Kind: model.KindAdmin, Text: "hi again (#2)", TargetUserID: "u1"},
	).Stats

	if stats.SuccessCount != 2 || stats.RetryCount != 0 {
		t.Fatalf("echoes should be matched without retries, got %+v", stats)
	}
	if got := posts.Load(); got != 2 {
		t.Fatalf("each message should be posted once, got %d posts", got)
	}
}

func TestPoolRetriesUnreachableHost(t *testing.T) {
	collector := runPool(t, "127.0.0.1:1", 1,
		model.Message{SenderID: "u1", Kind: model.KindUser, Text: "hello"},
	)
	if collector.Stats.FailCount != 1 || collector.Stats.RetryCount != maxRetries {
		t.Fatalf("unexpected stats %+v", collector.Stats)
	}
}

func TestShardIsStable(t *testing.T) {
	for _, id := range []string{"u1", "u2", "a1"} {
		if shard(id, 8) != shard(id, 8) || shard(id, 8) >= 8 {
			t.Fatalf("shard(%q) is not stable", id)
		}
	}
}
