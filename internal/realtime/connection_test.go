package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"pulsequiz-sync/internal/domain"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (c *collector) modeList() []Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Mode(nil), c.modes...)
}

func (c *collector) errList() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func TestPushURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":     "ws://localhost:8000/ws/session/ABC123",
		"https://quiz.example.com/": "wss://quiz.example.com/ws/session/ABC123",
	}
	for in, want := range cases {
		got, err := PushURL(in, "ABC123")
		if err != nil || got != want {
			t.Fatalf("PushURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestConnectRejectsInvalidIdentity(t *testing.T) {
	_, err := Connect(context.Background(), "ABC123", domain.Identity{HostToken: "a", PlayerID: "b"}, &fakeSource{}, Options{ServerURL: "http://localhost"}, Handlers{})
	if !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestPushIdentifiesAndRelaysFrames(t *testing.T) {
	identified := make(chan map[string]string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/session/ABC123" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		identified <- msg
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_state","state":{"code":"ABC123","status":"lobby"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"player_joined","player":{"id":"p2","nickname":"Ben"}}`))
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	col := &collector{}
	src := &fakeSource{}
	conn, err := Connect(context.Background(), "ABC123", domain.PlayerIdentity("p1"), src, Options{ServerURL: server.URL, Clock: clockwork.NewFakeClock()}, col.handlers())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case msg := <-identified:
		if msg["type"] != "identify_player" || msg["playerId"] != "p1" {
			t.Fatalf("unexpected identify %v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no identify message")
	}

	waitFor(t, "relayed frames", func() bool { return len(col.types()) == 2 })
	types := col.types()
	if types[0] != domain.EventSessionState || types[1] != domain.EventPlayerJoined {
		t.Fatalf("unexpected events %v", types)
	}
	if conn.Mode() != ModePush {
		t.Fatalf("expected push mode, got %s", conn.Mode())
	}
	if err := conn.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("send in push mode: %v", err)
	}

	_ = conn.Close()
	_ = conn.Close()
	if conn.Mode() != ModeClosed {
		t.Fatalf("expected closed, got %s", conn.Mode())
	}
	modes := col.modeList()
	if len(modes) != 2 || modes[0] != ModePush || modes[1] != ModeClosed {
		t.Fatalf("unexpected mode changes %v", modes)
	}
	if calls, _ := src.calls(); calls != 0 {
		t.Fatalf("poll transport must stay idle while push works")
	}
}

func TestFailoverAfterConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// never complete the upgrade
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	clock := clockwork.NewFakeClock()
	src := &fakeSource{snap: domain.SessionSnapshot{Code: "ABC123", Status: domain.StatusPlaying, CurrentQuestionIndex: 1}}
	col := &collector{}
	conn, err := Connect(context.Background(), "ABC123", domain.ObserverIdentity("o1"), src, Options{ServerURL: server.URL, Clock: clock}, col.handlers())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	clock.Advance(4999 * time.Millisecond)
	if conn.Mode() != ModeConnecting {
		t.Fatalf("fell back before the timeout: %s", conn.Mode())
	}

	clock.Advance(time.Millisecond)
	waitFor(t, "initial poll state", func() bool { return len(col.types()) == 1 })
	if col.types()[0] != domain.EventSessionState {
		t.Fatalf("expected session_state from initial poll, got %v", col.types())
	}
	if conn.Mode() != ModePull {
		t.Fatalf("expected pull mode, got %s", conn.Mode())
	}
	if err := conn.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("send in pull mode must be a silent no-op, got %v", err)
	}

	// A second trigger must not restart the pull transport.
	conn.degrade("again", nil)
	if calls, _ := src.calls(); calls != 1 {
		t.Fatalf("expected a single initial fetch, got %d", calls)
	}
}

func TestDialFailureFallsBackImmediately(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	src := &fakeSource{snap: domain.SessionSnapshot{Code: "ABC123"}}
	col := &collector{}
	conn, err := Connect(context.Background(), "ABC123", domain.HostIdentity("secret"), src, Options{ServerURL: server.URL, Clock: clockwork.NewFakeClock()}, col.handlers())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	waitFor(t, "pull mode", func() bool { return conn.Mode() == ModePull && len(col.types()) == 1 })
}

func TestPushDropAfterOpenFallsBackToPull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var msg map[string]string
		_ = conn.ReadJSON(&msg)
		_ = conn.Close()
	}))
	defer server.Close()

	src := &fakeSource{snap: domain.SessionSnapshot{Code: "ABC123"}}
	col := &collector{}
	conn, err := Connect(context.Background(), "ABC123", domain.PlayerIdentity("p1"), src, Options{ServerURL: server.URL, Clock: clockwork.NewFakeClock()}, col.handlers())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	waitFor(t, "pull after drop", func() bool { return conn.Mode() == ModePull })
	modes := col.modeList()
	if len(modes) < 2 || modes[0] != ModePush || modes[1] != ModePull {
		t.Fatalf("expected push then pull, got %v", modes)
	}
}

func TestFatalWhenBothTransportsFail(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	src := &fakeSource{stateErr: errors.New("session not found")}
	col := &collector{}
	conn, err := Connect(context.Background(), "ABC123", domain.PlayerIdentity("p1"), src, Options{ServerURL: server.URL, Clock: clockwork.NewFakeClock()}, col.handlers())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "fatal error", func() bool { return len(col.errList()) == 1 })
	err = col.errList()[0]
	var connErr *domain.ConnectionError
	if !errors.As(err, &connErr) || !errors.Is(err, domain.ErrTransportFatal) {
		t.Fatalf("expected fatal connection error, got %v", err)
	}
	waitFor(t, "closed", func() bool { return conn.Mode() == ModeClosed })
	if calls, _ := src.calls(); calls != 1 {
		t.Fatalf("expected no retry beyond the single degrade, got %d fetches", calls)
	}
}

func TestCloseBeforeConnectFinishes(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	clock := clockwork.NewFakeClock()
	src := &fakeSource{}
	conn, err := Connect(context.Background(), "ABC123", domain.PlayerIdentity("p1"), src, Options{ServerURL: server.URL, Clock: clock}, Handlers{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = conn.Close()

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if conn.Mode() != ModeClosed {
		t.Fatalf("expected closed, got %s", conn.Mode())
	}
	if calls, _ := src.calls(); calls != 0 {
		t.Fatalf("watchdog fired after close")
	}
}
