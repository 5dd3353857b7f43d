package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"supportchat/client/metrics"
	"supportchat/client/model"
)

const (
	maxRetries = 5
	baseDelay  = 100 * time.Millisecond
	ioTimeout  = 5 * time.Second
)

var errRejected = errors.New("relay rejected message")

// session is one live identity connection. Its reader goroutine keeps
// consuming frames so admin fan-out never backs up the relay's writes; a
// frame only goes anywhere when it answers the current waiter.
type session struct {
	conn *websocket.Conn
	done chan struct{}
	err  error

	mu     sync.Mutex
	waiter *waiter
}

type waiter struct {
	match  func(model.Frame) (bool, error)
	result chan error
}

func dial(host, senderID string) (*session, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws", RawQuery: url.Values{"userId": {senderID}}.Encode()}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	s := &session{conn: conn, done: make(chan struct{})}

	// connected, then history; any unread_count after that is ignored.
	w := s.expect(func(f model.Frame) (bool, error) { return f.Type == model.FrameHistory, nil })
	go s.readLoop()
	if err := s.wait(w); err != nil {
		s.close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return s, nil
}

func (s *session) readLoop() {
	defer close(s.done)
	for {
		var f model.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.err = err
			return
		}
		s.mu.Lock()
		w := s.waiter
		s.mu.Unlock()
		if w == nil {
			continue
		}
		if ok, err := w.match(f); ok || err != nil {
			s.release(w)
			w.result <- err
		}
	}
}

// expect installs the waiter before the frame it waits for can arrive.
func (s *session) expect(match func(model.Frame) (bool, error)) *waiter {
	w := &waiter{match: match, result: make(chan error, 1)}
	s.mu.Lock()
	s.waiter = w
	s.mu.Unlock()
	return w
}

func (s *session) release(w *waiter) {
	s.mu.Lock()
	if s.waiter == w {
		s.waiter = nil
	}
	s.mu.Unlock()
}

func (s *session) wait(w *waiter) error {
	timer := time.NewTimer(ioTimeout)
	defer timer.Stop()
	select {
	case err := <-w.result:
		return err
	case <-s.done:
		return fmt.Errorf("connection lost: %w", s.err)
	case <-timer.C:
		s.release(w)
		return errors.New("timed out waiting for relay")
	}
}

// post sends msg and waits for the relay to echo it back to the sender.
func (s *session) post(msg model.Message) error {
	w := s.expect(func(f model.Frame) (bool, error) {
		switch f.Type {
		case model.FrameError:
			var text string
			_ = json.Unmarshal(f.Message, &text)
			return false, fmt.Errorf("%w: %s", errRejected, text)
		case model.FrameMessage:
			var d model.Delivered
			if err := json.Unmarshal(f.Message, &d); err != nil {
				return false, nil
			}
			return d.Message == msg.Text && d.UserID == msg.OwnerID(), nil
		}
		return false, nil
	})
	_ = s.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := s.conn.WriteJSON(msg.Envelope()); err != nil {
		s.release(w)
		return err
	}
	return s.wait(w)
}

func (s *session) close() {
	_ = s.conn.Close()
	<-s.done
}

type Worker struct {
	ID        int
	Input     <-chan model.Message
	Collector *metrics.Collector
	Host      string
	Logger    *slog.Logger
	sessions  map[string]*session
}

func NewWorker(id int, input <-chan model.Message, collector *metrics.Collector, host string, logger *slog.Logger) *Worker {
	return &Worker{
		ID:        id,
		Input:     input,
		Collector: collector,
		Host:      host,
		Logger:    logger.With("worker", id),
		sessions:  make(map[string]*session),
	}
}

func (w *Worker) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	for msg := range w.Input {
		w.processMessageWithRetry(msg)
	}
	for _, s := range w.sessions {
		s.close()
	}
}

func (w *Worker) getSession(senderID string) (*session, error) {
	if s, ok := w.sessions[senderID]; ok {
		return s, nil
	}
	s, err := dial(w.Host, senderID)
	if err != nil {
		return nil, err
	}
	w.Collector.RecordConnection()
	w.sessions[senderID] = s
	return s, nil
}

func (w *Worker) processMessageWithRetry(msg model.Message) {
	for i := 0; i <= maxRetries; i++ {
		start := time.Now()
		err := w.sendMessage(msg)
		if err == nil {
			w.Collector.Record(metrics.Record{
				Timestamp:      start,
				Kind:           msg.Kind,
				Latency:        time.Since(start),
				StatusCode:     metrics.StatusOK,
				ConversationID: msg.OwnerID(),
			})
			return
		}

		w.Logger.Warn("send failed", "sender", msg.SenderID, "attempt", i+1, "error", err)

		// A rejection is a verdict on the message, not the connection.
		if errors.Is(err, errRejected) {
			w.recordFailure(msg, start)
			return
		}
		if s, ok := w.sessions[msg.SenderID]; ok {
			s.close()
			delete(w.sessions, msg.SenderID)
		}
		if i == maxRetries {
			w.recordFailure(msg, start)
			return
		}
		w.Collector.RecordRetry()
		time.Sleep(baseDelay << i)
	}
}

func (w *Worker) recordFailure(msg model.Message, start time.Time) {
	w.Collector.Record(metrics.Record{
		Timestamp:      start,
		Kind:           msg.Kind,
		StatusCode:     metrics.StatusError,
		ConversationID: msg.OwnerID(),
	})
}

func (w *Worker) sendMessage(msg model.Message) error {
	s, err := w.getSession(msg.SenderID)
	if err != nil {
		return err
	}
	return s.post(msg)
}

type Pool struct {
	NumWorkers     int
	GeneratorInput <-chan model.Message
	Collector      *metrics.Collector
	Host           string
	Logger         *slog.Logger
}

func NewPool(numWorkers int, input <-chan model.Message, collector *metrics.Collector, host string, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		NumWorkers:     numWorkers,
		GeneratorInput: input,
		Collector:      collector,
		Host:           host,
		Logger:         logger,
	}
}

// Run shards messages by sender so each identity has exactly one connection;
// two connections for one identity would keep replacing each other.
func (p *Pool) Run() {
	inputs := make([]chan model.Message, p.NumWorkers)
	var wg sync.WaitGroup
	for i := range inputs {
		inputs[i] = make(chan model.Message, 64)
		wg.Add(1)
		go NewWorker(i, inputs[i], p.Collector, p.Host, p.Logger).Run(&wg)
	}

	for msg := range p.GeneratorInput {
		inputs[shard(msg.SenderID, p.NumWorkers)] <- msg
	}
	for _, in := range inputs {
		close(in)
	}
	wg.Wait()
}

func shard(senderID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	return int(h.Sum32() % uint32(n))
}
