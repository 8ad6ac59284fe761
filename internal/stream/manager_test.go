package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// echoServer upgrades, records the subscribe frame and then sends count
// messages before holding the connection open.
func echoServer(t *testing.T, count int, gotSub *string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, sub, err := ws.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		*gotSub = string(sub)
		mu.Unlock()

		for i := 0; i < count; i++ {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"seq":1}`)); err != nil {
				return
			}
		}
		// keep the connection open until the client leaves
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testManager() *Manager {
	return NewManager(Config{
		PingInterval:      50 * time.Millisecond,
		ReconnectAttempts: 2,
		ReconnectBackoff:  []time.Duration{10 * time.Millisecond},
	})
}

func TestConnectSubscribeDispatch(t *testing.T) {
	var sub string
	srv := echoServer(t, 3, &sub)
	defer srv.Close()

	m := testManager()
	defer m.Shutdown()

	received := make(chan []byte, 8)
	err := m.Connect(context.Background(), "btc@ticker", wsURL(srv), []byte(`{"op":"subscribe"}`),
		func(msg []byte) { received <- msg })
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not dispatched", i)
		}
	}
	if sub != `{"op":"subscribe"}` {
		t.Fatalf("subscribe frame = %q", sub)
	}
	if !m.IsAlive("btc@ticker") {
		t.Fatalf("stream should be alive")
	}
}

func TestConnectIdempotent(t *testing.T) {
	var sub string
	srv := echoServer(t, 0, &sub)
	defer srv.Close()

	m := testManager()
	defer m.Shutdown()

	dispatch := func([]byte) {}
	if err := m.Connect(context.Background(), "s", wsURL(srv), []byte("x"), dispatch); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Connect(context.Background(), "s", wsURL(srv), []byte("x"), dispatch); err != nil {
		t.Fatalf("second connect should be a no-op: %v", err)
	}
	if n := len(m.Names()); n != 1 {
		t.Fatalf("streams = %d", n)
	}
}

func TestConnectFailure(t *testing.T) {
	m := testManager()
	defer m.Shutdown()

	err := m.Connect(context.Background(), "bad", "ws://127.0.0.1:1/ws", nil, func([]byte) {})
	if err == nil {
		t.Fatalf("expected dial error")
	}
	if st := m.State("bad"); st != StateDisconnected {
		t.Fatalf("failed stream should not be tracked, state=%s", st)
	}
}

func TestDisconnectStopsStream(t *testing.T) {
	var sub string
	srv := echoServer(t, 0, &sub)
	defer srv.Close()

	m := testManager()
	if err := m.Connect(context.Background(), "s", wsURL(srv), []byte("x"), func([]byte) {}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Disconnect("s")
	if m.IsAlive("s") {
		t.Fatalf("stream alive after disconnect")
	}
	if st := m.State("s"); st != StateDisconnected {
		t.Fatalf("state = %s", st)
	}
	m.Shutdown()
}

func TestReconnectAfterServerDrop(t *testing.T) {
	var sub string
	var mu sync.Mutex
	accepts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		accepts++
		n := accepts
		mu.Unlock()

		if _, raw, err := ws.ReadMessage(); err == nil {
			mu.Lock()
			sub = string(raw)
			mu.Unlock()
		}

		if n == 1 {
			// first connection: drop immediately to force a reconnect
			ws.Close()
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte("back"))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				ws.Close()
				return
			}
		}
	}))
	defer srv.Close()

	m := testManager()
	defer m.Shutdown()

	received := make(chan []byte, 1)
	if err := m.Connect(context.Background(), "s", wsURL(srv), []byte("sub"), func(msg []byte) {
		select {
		case received <- msg:
		default:
		}
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != "back" {
			t.Fatalf("message = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no message after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	if accepts < 2 {
		t.Fatalf("server accepted %d connections, want at least 2", accepts)
	}
	if sub != "sub" {
		t.Fatalf("subscribe frame not re-sent: %q", sub)
	}
}

func TestHealthUnknownStream(t *testing.T) {
	m := testManager()
	h := m.Health("nope")
	if h.Status != StatusUnhealthy || h.State != StateDisconnected {
		t.Fatalf("health = %+v", h)
	}
}

func TestReconnectBackoffSchedule(t *testing.T) {
	sched := []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}
	delay := scheduleDelay(sched)

	want := []time.Duration{
		2 * time.Second,  // attempt 0
		5 * time.Second,  // attempt 1
		10 * time.Second, // attempt 2
		20 * time.Second, // past the schedule: last entry doubles
		40 * time.Second,
	}
	for n, w := range want {
		if got := delay(uint(n), nil, nil); got != w {
			t.Fatalf("delay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestDefaultBackoffSchedule(t *testing.T) {
	cfg := Config{}.withDefaults()
	want := []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}
	if len(cfg.ReconnectBackoff) != len(want) {
		t.Fatalf("backoff = %v, want %v", cfg.ReconnectBackoff, want)
	}
	for i, d := range want {
		if cfg.ReconnectBackoff[i] != d {
			t.Fatalf("backoff[%d] = %v, want %v", i, cfg.ReconnectBackoff[i], d)
		}
	}
	if cfg.ReconnectMaxDelay != time.Minute {
		t.Fatalf("max delay = %v", cfg.ReconnectMaxDelay)
	}
}
