package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// tokenSource is a fixed httpclient.TokenSource
type tokenSource struct{ token string }

func (s tokenSource) Token(context.Context) (string, error)   { return s.token, nil }
func (s tokenSource) Refresh(context.Context) (string, error) { return s.token, nil }

// scheduler records reconnect delays instead of waiting for them. fire runs a
// recorded reconnect synchronously.
type scheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (s *scheduler) afterFunc(d time.Duration, f func()) *time.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	return time.AfterFunc(time.Hour, func() {})
}

func (s *scheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *scheduler) fire(i int) {
	s.mu.Lock()
	f := s.fns[i]
	s.mu.Unlock()
	f()
}

type received struct {
	kind int
	data []byte
}

// wsServer is a fake backend socket. It refuses upgrades until accept is set,
// records every message and answers a final frame with result.
type wsServer struct {
	*httptest.Server
	accept atomic.Bool
	result atomic.Value // string
	msgs   chan received
	conns  chan *websocket.Conn
	tokens chan string
}

func newWSServer(t *testing.T, accept bool) *wsServer {
	t.Helper()
	s := &wsServer{
		msgs:   make(chan received, 512),
		conns:  make(chan *websocket.Conn, 8),
		tokens: make(chan string, 8),
	}
	s.accept.Store(accept)
	s.result.Store("")

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.accept.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.tokens <- r.URL.Query().Get("token")
		s.conns <- conn

		lastFinal := false
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.msgs <- received{kind: kind, data: data}
			switch kind {
			case websocket.TextMessage:
				var meta FrameMetadata
				_ = json.Unmarshal(data, &meta)
				lastFinal = meta.Type == messageTypeMetadata && meta.IsFinal
			case websocket.BinaryMessage:
				if res := s.result.Load().(string); lastFinal && res != "" {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(res))
				}
				lastFinal = false
			}
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) next(t *testing.T) received {
	t.Helper()
	select {
	case m := <-s.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a stream message")
		return received{}
	}
}
