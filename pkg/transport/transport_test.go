package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

// counterpart is an in-process websocket server. Each accepted connection is handled by
// behave, indexed from 1.
type counterpart struct {
	srv      *httptest.Server
	accepted atomic.Int32
	agents   chan string
}

func newCounterpart(t *testing.T, behave func(n int, ws *websocket.Conn) bool) *counterpart {
	t.Helper()
	cp := &counterpart{agents: make(chan string, 16)}
	if behave == nil {
		behave = echo
	}
	upgrader := websocket.Upgrader{}
	cp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(cp.accepted.Add(1))
		select {
		case cp.agents <- r.Header.Get("User-Agent"):
		default:
		}
		// A false return before upgrading refuses the handshake.
		if !behave(n, nil) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		behave(n, ws)
	}))
	t.Cleanup(cp.srv.Close)
	return cp
}

func (cp *counterpart) url() string {
	return "ws" + strings.TrimPrefix(cp.srv.URL, "http")
}

// echo accepts every connection and echoes text frames.
func echo(_ int, ws *websocket.Conn) bool {
	if ws == nil {
		return true
	}
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return true
		}
		if err := ws.WriteMessage(kind, data); err != nil {
			return true
		}
	}
}

type recorder struct {
	mu         sync.Mutex
	opens      []bool
	messages   []string
	closes     []bool
	failed     error
	openCh     chan struct{}
	closeCh    chan struct{}
	messageCh  chan struct{}
	failedCh   chan struct{}
	reconnects atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{
		openCh:    make(chan struct{}, 16),
		closeCh:   make(chan struct{}, 16),
		messageCh: make(chan struct{}, 16),
		failedCh:  make(chan struct{}, 1),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnOpen: func(_ string, reconnected bool) {
			r.mu.Lock()
			r.opens = append(r.opens, reconnected)
			r.mu.Unlock()
			r.openCh <- struct{}{}
		},
		OnMessage: func(raw []byte) {
			r.mu.Lock()
			r.messages = append(r.messages, string(raw))
			r.mu.Unlock()
			r.messageCh <- struct{}{}
		},
		OnClose: func(_ string, _ error, intentional bool) {
			r.mu.Lock()
			r.closes = append(r.closes, intentional)
			r.mu.Unlock()
			r.closeCh <- struct{}{}
		},
		OnReconnecting: func(int) { r.reconnects.Add(1) },
		OnReconnectFailed: func(err error) {
			r.mu.Lock()
			r.failed = err
			r.mu.Unlock()
			r.failedCh <- struct{}{}
		},
	}
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConnectSendReceive(t *testing.T) {
	cp := newCounterpart(t, nil)
	rec := newRecorder()
	c := NewConnector(cp.url(), DefaultReconnectPolicy(), Options{UserAgent: "randchat/test"}, rec.handler())
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	wait(t, rec.openCh, "open")
	if got := <-cp.agents; got != "randchat/test" {
		t.Fatalf("User-Agent = %q", got)
	}

	for _, m := range []string{`{"type":"search"}`, `{"type":"logout"}`} {
		if err := c.Send([]byte(m)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	wait(t, rec.messageCh, "first echo")
	wait(t, rec.messageCh, "second echo")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if diff := cmp.Diff([]string{`{"type":"search"}`, `{"type":"logout"}`}, rec.messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false}, rec.opens); diff != "" {
		t.Fatalf("opens mismatch (-want +got):\n%s", diff)
	}
}

func TestSendWhileNotConnected(t *testing.T) {
	c := NewConnector("ws://127.0.0.1:1/ws", DefaultReconnectPolicy(), Options{}, Handler{})
	if err := c.Send([]byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() = %v, want ErrNotConnected", err)
	}
}

func TestConnectFailure(t *testing.T) {
	cp := newCounterpart(t, func(int, *websocket.Conn) bool { return false })
	c := NewConnector(cp.url(), DefaultReconnectPolicy(), Options{}, Handler{})

	err := c.Connect(context.Background())
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Connect() = %v, want *ConnectionError", err)
	}
	if cerr.Endpoint != cp.url() {
		t.Fatalf("Endpoint = %q", cerr.Endpoint)
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Connect() = %v, want to wrap ErrBadHandshake", err)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	// The first connection is dropped by the server; later ones echo.
	cp := newCounterpart(t, func(n int, ws *websocket.Conn) bool {
		if ws != nil && n == 1 {
			return true
		}
		return echo(n, ws)
	})
	rec := newRecorder()
	c := NewConnector(cp.url(), DefaultReconnectPolicy(), Options{}, rec.handler())
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	wait(t, rec.openCh, "open")
	wait(t, rec.closeCh, "drop")
	wait(t, rec.openCh, "reopen")

	rec.mu.Lock()
	opens, closes := rec.opens, rec.closes
	rec.mu.Unlock()
	if diff := cmp.Diff([]bool{false, true}, opens); diff != "" {
		t.Fatalf("opens mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false}, closes); diff != "" {
		t.Fatalf("closes mismatch (-want +got):\n%s", diff)
	}
	if err := c.Send([]byte("again")); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	wait(t, rec.messageCh, "echo after reconnect")
}

func TestReconnectGivesUp(t *testing.T) {
	cp := newCounterpart(t, func(n int, ws *websocket.Conn) bool {
		// Accept and drop the first connection, refuse everything after it.
		return n == 1
	})
	rec := newRecorder()
	policy := ReconnectPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	c := NewConnector(cp.url(), policy, Options{}, rec.handler())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	wait(t, rec.failedCh, "reconnect failure")
	c.Wait()

	if got := rec.reconnects.Load(); got != 3 {
		t.Fatalf("reconnect attempts = %d, want 3", got)
	}
	var cerr *ConnectionError
	rec.mu.Lock()
	failed := rec.failed
	rec.mu.Unlock()
	if !errors.As(failed, &cerr) {
		t.Fatalf("failure = %v, want *ConnectionError", failed)
	}
	if c.Connected() {
		t.Fatalf("connector should be disconnected")
	}
}

func TestIntentionalCloseDoesNotReconnect(t *testing.T) {
	cp := newCounterpart(t, nil)
	rec := newRecorder()
	c := NewConnector(cp.url(), ReconnectPolicy{MaxAttempts: 5}, Options{}, rec.handler())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	wait(t, rec.openCh, "open")

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	wait(t, rec.closeCh, "close")
	c.Wait()

	if got := rec.reconnects.Load(); got != 0 {
		t.Fatalf("reconnect attempts = %d after intentional close", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if diff := cmp.Diff([]bool{true}, rec.closes); diff != "" {
		t.Fatalf("closes mismatch (-want +got):\n%s", diff)
	}
	if err := c.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send after Close = %v", err)
	}
}

func TestCloseDuringReconnect(t *testing.T) {
	cp := newCounterpart(t, func(n int, ws *websocket.Conn) bool {
		// Accept and drop the first connection, refuse every redial.
		return n == 1
	})
	rec := newRecorder()
	policy := ReconnectPolicy{MaxAttempts: 50, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	c := NewConnector(cp.url(), policy, Options{}, rec.handler())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	wait(t, rec.closeCh, "drop")

	deadline := time.Now().Add(5 * time.Second)
	for rec.reconnects.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("reconnect attempts = %d, want at least 3", rec.reconnects.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Wait()
	attempts := rec.reconnects.Load()
	time.Sleep(100 * time.Millisecond)

	if got := rec.reconnects.Load(); got != attempts {
		t.Fatalf("reconnect attempts went from %d to %d after Close", attempts, got)
	}
	select {
	case <-rec.failedCh:
		t.Fatalf("OnReconnectFailed fired after Close: %v", rec.failed)
	default:
	}
	if c.Connected() {
		t.Fatalf("connector reports connected after Close")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if diff := cmp.Diff([]bool{false}, rec.opens); diff != "" {
		t.Fatalf("opens mismatch (-want +got):\n%s", diff)
	}
}

func TestAdoptRefusesSecondConnection(t *testing.T) {
	cp := newCounterpart(t, nil)
	rec := newRecorder()
	c := NewConnector(cp.url(), DefaultReconnectPolicy(), Options{}, rec.handler())
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	wait(t, rec.openCh, "open")

	late, err := Dial(context.Background(), cp.url(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.adopt(late, true); !errors.Is(err, errSuperseded) {
		t.Fatalf("adopt(second) = %v, want errSuperseded", err)
	}
	select {
	case <-late.Done():
	default:
		t.Fatalf("superseded connection left open")
	}

	if err := c.Send([]byte("still here")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	wait(t, rec.messageCh, "echo on the first connection")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if diff := cmp.Diff([]bool{false}, rec.opens); diff != "" {
		t.Fatalf("opens mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"still here"}, rec.messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroAttemptsDisablesReconnect(t *testing.T) {
	cp := newCounterpart(t, func(n int, ws *websocket.Conn) bool { return true })
	rec := newRecorder()
	c := NewConnector(cp.url(), ReconnectPolicy{}, Options{}, rec.handler())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	wait(t, rec.closeCh, "drop")
	c.Wait()
	if got := rec.reconnects.Load(); got != 0 {
		t.Fatalf("reconnect attempts = %d, want 0", got)
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	cp := newCounterpart(t, nil)
	conn, err := Dial(context.Background(), cp.url(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	closed := make(chan error, 2)
	conn.Start(nil, func(reason error) { closed <- reason })

	_ = conn.Close()
	_ = conn.Close()
	select {
	case reason := <-closed:
		if !errors.Is(reason, ErrClosedByClient) {
			t.Fatalf("reason = %v", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onClose not called")
	}
	select {
	case <-closed:
		t.Fatal("onClose called twice")
	case <-time.After(50 * time.Millisecond):
	}
	if err := conn.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send on closed conn = %v", err)
	}
}

func TestReconnectPolicyBackOff(t *testing.T) {
	tests := []struct {
		name   string
		policy ReconnectPolicy
		want   []time.Duration
	}{
		{"single attempt", DefaultReconnectPolicy(), []time.Duration{backoff.Stop}},
		{"three immediate attempts", ReconnectPolicy{MaxAttempts: 3}, []time.Duration{0, 0, backoff.Stop}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.policy.backOff(context.Background())
			b.Reset()
			var got []time.Duration
			for range tt.want {
				got = append(got, b.NextBackOff())
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("schedule mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReconnectPolicyExponentialCap(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 10, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond, Multiplier: 2}
	b := p.backOff(context.Background())
	b.Reset()
	for i := 0; i < 9; i++ {
		d := b.NextBackOff()
		// Randomization allows up to 50% above the capped interval.
		if d <= 0 || d > 60*time.Millisecond {
			t.Fatalf("retry %d backoff = %v", i, d)
		}
	}
	if d := b.NextBackOff(); d != backoff.Stop {
		t.Fatalf("backoff after max retries = %v, want Stop", d)
	}
}
