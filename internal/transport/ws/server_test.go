package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/metrics"
	"github.com/ggonzalez94/defi-agent/internal/model"
)

type fakeSession struct {
	id      string
	sink    func(model.Event)
	release chan struct{}

	mu    sync.Mutex
	texts []string
	burst int
}

func (f *fakeSession) HandleMessage(_ context.Context, text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if text == "busy" {
		return clierr.New(clierr.CodePendingSwapExists, "a swap is already executing")
	}
	f.sink(model.Event{Type: model.EventReply, SwapID: f.id, Message: "echo: " + text})
	return nil
}

func (f *fakeSession) Confirm(context.Context) error {
	f.sink(model.Event{Type: model.EventExecutionStarted, SwapID: f.id})
	<-f.release
	f.sink(model.Event{Type: model.EventExecutionSettled, SwapID: f.id, TxHash: "0xfeed"})
	return nil
}

func (f *fakeSession) Cancel() error {
	return clierr.New(clierr.CodeUsage, "no swap is awaiting confirmation")
}

// Tick emits burst cancellations on its first call.
func (f *fakeSession) Tick(time.Time) bool {
	f.mu.Lock()
	n := f.burst
	f.burst = 0
	f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.sink(model.Event{Type: model.EventSwapCancelled, SwapID: f.id})
	}
	return n > 0
}

type sessions struct {
	mu      sync.Mutex
	created []*fakeSession
	release chan struct{}
	burst   int
}

func (s *sessions) factory(id string, sink func(model.Event)) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := &fakeSession{id: id, sink: sink, release: s.release, burst: s.burst}
	s.created = append(s.created, fs)
	return fs
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	return ev
}

func TestSessionRepliesAndReportsErrors(t *testing.T) {
	s := &sessions{release: make(chan struct{})}
	srv := httptest.NewServer(NewServer(s.factory))
	defer srv.Close()
	conn := dial(t, srv.URL)

	if err := conn.WriteJSON(ClientMessage{Type: "message", Text: "hello"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != model.EventReply || ev.Message != "echo: hello" {
		t.Fatalf("unexpected reply %+v", ev)
	}
	if testutil.ToFloat64(metrics.ActiveSessions) < 1 {
		t.Fatal("expected an active session to be counted")
	}

	if err := conn.WriteJSON(ClientMessage{Type: "shout"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ev = readEvent(t, conn)
	if ev.Type != model.EventError || ev.Code != clierr.CodeUsage.String() {
		t.Fatalf("expected usage error, got %+v", ev)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "cancel"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != model.EventError {
		t.Fatalf("expected cancel error, got %+v", ev)
	}
}

func TestConfirmDoesNotBlockTheConversation(t *testing.T) {
	s := &sessions{release: make(chan struct{})}
	srv := httptest.NewServer(NewServer(s.factory))
	defer srv.Close()
	conn := dial(t, srv.URL)

	if err := conn.WriteJSON(ClientMessage{Type: "confirm"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != model.EventExecutionStarted {
		t.Fatalf("expected execution start, got %+v", ev)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "message", Text: "busy"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != model.EventError || ev.Code != clierr.CodePendingSwapExists.String() {
		t.Fatalf("expected pending swap error while executing, got %+v", ev)
	}

	close(s.release)
	ev = readEvent(t, conn)
	if ev.Type != model.EventExecutionSettled || ev.TxHash != "0xfeed" {
		t.Fatalf("expected settlement, got %+v", ev)
	}
}

func TestEachConnectionGetsItsOwnSession(t *testing.T) {
	s := &sessions{release: make(chan struct{})}
	srv := httptest.NewServer(NewServer(s.factory))
	defer srv.Close()

	a := dial(t, srv.URL)
	b := dial(t, srv.URL)
	_ = a.WriteJSON(ClientMessage{Type: "message", Text: "from a"})
	_ = b.WriteJSON(ClientMessage{Type: "message", Text: "from b"})
	evA := readEvent(t, a)
	evB := readEvent(t, b)

	if evA.SwapID == "" || evA.SwapID == evB.SwapID {
		t.Fatalf("expected distinct sessions, got %q and %q", evA.SwapID, evB.SwapID)
	}
	if evA.Message != "echo: from a" || evB.Message != "echo: from b" {
		t.Fatalf("events crossed sessions: %+v %+v", evA, evB)
	}
}

func TestAllowedOrigins(t *testing.T) {
	s := &sessions{release: make(chan struct{})}
	srv := httptest.NewServer(NewServer(s.factory, WithAllowedOrigins([]string{"https://app.example"})))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected foreign origin to be rejected")
	}
	header["Origin"] = []string{"https://app.example"}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	_ = conn.Close()
}

func TestTickEventsBeyondTheSendBuffer(t *testing.T) {
	s := &sessions{release: make(chan struct{}), burst: 3 * sendBuffer}
	srv := httptest.NewServer(NewServer(s.factory, WithTickInterval(10*time.Millisecond)))
	defer srv.Close()
	conn := dial(t, srv.URL)

	for i := 0; i < 3*sendBuffer; i++ {
		if ev := readEvent(t, conn); ev.Type != model.EventSwapCancelled {
			t.Fatalf("event %d: expected cancellation, got %+v", i, ev)
		}
	}
	if err := conn.WriteJSON(ClientMessage{Type: "message", Text: "still there"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != model.EventReply || ev.Message != "echo: still there" {
		t.Fatalf("expected reply after tick burst, got %+v", ev)
	}
}
