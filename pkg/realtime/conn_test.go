package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicesim/pkg/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// endpoint returns an Endpoint pointing at srv.
func endpoint(srv *httptest.Server) realtime.Endpoint {
	return realtime.Endpoint{
		BaseURL:           srv.URL,
		APIKey:            "secret",
		UserID:            "me",
		CounterpartUserID: "them",
		SimulationType:    "peer_feedback",
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// nextEvent waits for the next event or fails the test.
func nextEvent(t *testing.T, c *realtime.Conn) realtime.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-c.Events():
		if !ok {
			t.Fatalf("events closed early: %v", c.Err())
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return realtime.ServerMessage{}
}

// waitClosed waits for the events channel to close.
func waitClosed(t *testing.T, c *realtime.Conn) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for events to close")
		}
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_HandshakeCarriesHeaderAndQuery(t *testing.T) {
	t.Parallel()
	type seen struct {
		key, path, user, sim string
	}
	got := make(chan seen, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		got <- seen{
			key:  r.Header.Get("X-API-Key"),
			path: r.URL.Path,
			user: r.URL.Query().Get("user_application_id"),
			sim:  r.URL.Query().Get("simulation_type"),
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := realtime.Dial(context.Background(), endpoint(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	select {
	case s := <-got:
		if s.key != "secret" {
			t.Errorf("X-API-Key = %q; want secret", s.key)
		}
		if s.path != realtime.Path {
			t.Errorf("path = %q; want %q", s.path, realtime.Path)
		}
		if s.user != "me" || s.sim != "peer_feedback" {
			t.Errorf("query = %+v", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout: server never received connection")
	}
}

func TestDial_Failure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := realtime.Dial(context.Background(), endpoint(srv))
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "realtime: dial") {
		t.Errorf("error should be wrapped, got: %v", err)
	}
}

func TestSendAudio_WireFormat(t *testing.T) {
	t.Parallel()
	received := make(chan map[string]any, 2)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for range 2 {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			received <- m
		}
	})

	c, err := realtime.Dial(context.Background(), endpoint(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	for _, audio := range []string{"AAAA", "BBBB"} {
		if err := c.SendAudio(context.Background(), audio); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	for _, want := range []string{"AAAA", "BBBB"} {
		select {
		case m := <-received:
			if m["type"] != realtime.TypeInputAudioAppend {
				t.Errorf("type = %v; want %s", m["type"], realtime.TypeInputAudioAppend)
			}
			if m["audio"] != want {
				t.Errorf("audio = %v; want %s (order must be preserved)", m["audio"], want)
			}
			if len(m) != 2 {
				t.Errorf("unexpected extra fields: %v", m)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for audio message")
		}
	}
}

func TestEvents_ParsedInOrderAndMalformedSkipped(t *testing.T) {
	t.Parallel()
	bigDelta := strings.Repeat("A", 100_000)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created", "session": map[string]any{"id": "conv-1"}})
		_ = conn.Write(context.Background(), websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"no_type": true})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": bigDelta})
		writeJSON(t, conn, map[string]any{"type": "response.text.delta", "delta": "hi"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "boom"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := realtime.Dial(context.Background(), endpoint(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if m := nextEvent(t, c); m.Type != realtime.TypeSessionCreated || m.Session == nil || m.Session.ID != "conv-1" {
		t.Errorf("event 1 = %+v; want session.created conv-1", m)
	}
	if m := nextEvent(t, c); m.Type != realtime.TypeAudioDelta || len(m.Delta) != len(bigDelta) {
		t.Errorf("event 2 type=%q delta len=%d; want audio delta of %d", m.Type, len(m.Delta), len(bigDelta))
	}
	if m := nextEvent(t, c); m.Type != "response.text.delta" {
		t.Errorf("event 3 type = %q; unknown types should still be delivered", m.Type)
	}
	if m := nextEvent(t, c); m.Type != realtime.TypeResponseDone {
		t.Errorf("event 4 type = %q; want response.done", m.Type)
	}
	if m := nextEvent(t, c); m.Type != realtime.TypeError || m.ErrorMessage() != "boom" {
		t.Errorf("event 5 = %+v; want error boom", m)
	}
}

func TestErrorEventShapes(t *testing.T) {
	t.Parallel()

	frames := []string{
		`{"type":"error","error":"rate limited"}`,
		`{"type":"error","error":{"message":"quota exceeded","code":429}}`,
		`{"type":"error","error":42}`,
		`{"type":"error","error":null}`,
		`{"type":"error"}`,
	}
	want := []string{"rate limited", "quota exceeded", "Unknown error", "Unknown error", "Unknown error"}

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for _, f := range frames {
			_ = conn.Write(context.Background(), websocket.MessageText, []byte(f))
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := realtime.Dial(context.Background(), endpoint(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	for i, w := range want {
		m := nextEvent(t, c)
		if m.Type != realtime.TypeError {
			t.Fatalf("event %d type = %q; want error (frame %s dropped?)", i, m.Type, frames[i])
		}
		if got := m.ErrorMessage(); got != w {
			t.Errorf("frame %s: ErrorMessage() = %q; want %q", frames[i], got, w)
		}
	}
}

func TestPeerClose_ReportsCloseError(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.Close(websocket.StatusGoingAway, "server restarting")
	})

	c, err := realtime.Dial(context.Background(), endpoint(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	waitClosed(t, c)

	var ce *realtime.CloseError
	if !errors.As(c.Err(), &ce) {
		t.Fatalf("Err() = %v; want *CloseError", c.Err())
	}
	if ce.Code != websocket.StatusGoingAway {
		t.Errorf("code = %d; want %d", ce.Code, websocket.StatusGoingAway)
	}
	if !realtime.IsClose(c.Err()) {
		t.Error("IsClose should be true for a peer close")
	}
}

func TestAbruptDrop_ReportsTransportError(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.CloseNow()
	})

	c, err := realtime.Dial(context.Background(), endpoint(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	waitClosed(t, c)

	if c.Err() == nil {
		t.Fatal("expected a transport error")
	}
	if realtime.IsClose(c.Err()) {
		t.Errorf("IsClose(%v) = true; want false for an abrupt drop", c.Err())
	}
}

func TestClose_IdempotentAndStopsSends(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := realtime.Dial(context.Background(), endpoint(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitClosed(t, c)

	if err := c.SendAudio(context.Background(), "AAAA"); !errors.Is(err, realtime.ErrClosed) {
		t.Errorf("SendAudio after Close = %v; want ErrClosed", err)
	}
	if c.Err() != nil {
		t.Errorf("Err() after local Close = %v; want nil", c.Err())
	}
}

func TestIsClose(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"closed", realtime.ErrClosed, true},
		{"close error", &realtime.CloseError{Code: websocket.StatusNormalClosure}, true},
		{"other", errors.New("connection reset"), false},
	}
	for _, tc := range tests {
		if got := realtime.IsClose(tc.err); got != tc.want {
			t.Errorf("%s: IsClose = %v; want %v", tc.name, got, tc.want)
		}
	}
}
