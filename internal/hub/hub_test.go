package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/database"
)

type stubStore struct {
	active []database.CallAPI
	found  []database.CallAPI
}

func (s *stubStore) ListActiveCalls(ctx context.Context, since time.Time, limit int) ([]database.CallAPI, error) {
	return s.active, nil
}

func (s *stubStore) SearchCalls(ctx context.Context, filter database.CallFilter) ([]database.CallAPI, int, error) {
	return s.found, len(s.found), nil
}

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func TestInitialSnapshotOnConnect(t *testing.T) {
	store := &stubStore{active: []database.CallAPI{
		{CallID: 1, Transcript: "Engine 19, 1555 South Harding Street, Chest Pain"},
	}}
	h := New(Options{Store: store, Log: zerolog.Nop()})
	defer h.Close()

	conn := dialTestHub(t, h)
	f := readFrame(t, conn)
	if f.Type != FrameInitialCalls {
		t.Fatalf("first frame = %q, want %q", f.Type, FrameInitialCalls)
	}
	var calls []database.CallAPI
	if err := json.Unmarshal(f.Data, &calls); err != nil {
		t.Fatalf("unmarshal calls: %v", err)
	}
	if len(calls) != 1 || calls[0].CallID != 1 {
		t.Errorf("snapshot = %+v", calls)
	}
}

func TestBroadcastNewCall(t *testing.T) {
	h := New(Options{Store: &stubStore{}, Log: zerolog.Nop()})
	defer h.Close()

	conn := dialTestHub(t, h)
	readFrame(t, conn) // initial_calls

	h.NotifyNewCall(&database.CallAPI{CallID: 42, CallType: "Overdose"})
	f := readFrame(t, conn)
	if f.Type != FrameNewCall {
		t.Fatalf("frame = %q, want %q", f.Type, FrameNewCall)
	}
	var call database.CallAPI
	if err := json.Unmarshal(f.Data, &call); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if call.CallID != 42 {
		t.Errorf("CallID = %d, want 42", call.CallID)
	}
}

func TestAlertFrameType(t *testing.T) {
	h := New(Options{Store: &stubStore{}, Log: zerolog.Nop()})
	defer h.Close()

	conn := dialTestHub(t, h)
	readFrame(t, conn)

	h.NotifyAlert(&database.AlertRow{Severity: database.SeverityMedium, Title: "Area call concentration"})
	if f := readFrame(t, conn); f.Type != FrameNewAlert {
		t.Errorf("frame = %q, want %q", f.Type, FrameNewAlert)
	}

	h.NotifyAlert(&database.AlertRow{Severity: database.SeverityCritical, Title: "Overdose trend anomaly"})
	if f := readFrame(t, conn); f.Type != FrameCriticalAlert {
		t.Errorf("frame = %q, want %q", f.Type, FrameCriticalAlert)
	}
}

func TestSearchRoundTrip(t *testing.T) {
	store := &stubStore{found: []database.CallAPI{
		{CallID: 7, Transcript: "10301 Terminal Way"},
	}}
	h := New(Options{Store: store, Log: zerolog.Nop()})
	defer h.Close()

	conn := dialTestHub(t, h)
	readFrame(t, conn)

	req, _ := json.Marshal(Frame{Type: "search_calls", Data: json.RawMessage(`{"search":"terminal"}`)})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != FrameSearchResults {
		t.Fatalf("frame = %q, want %q", f.Type, FrameSearchResults)
	}
	var res searchResults
	if err := json.Unmarshal(f.Data, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Total != 1 || len(res.Calls) != 1 || res.Calls[0].CallID != 7 {
		t.Errorf("results = %+v", res)
	}
}

func TestUnknownRequestGetsError(t *testing.T) {
	h := New(Options{Store: &stubStore{}, Log: zerolog.Nop()})
	defer h.Close()

	conn := dialTestHub(t, h)
	readFrame(t, conn)

	req, _ := json.Marshal(Frame{Type: "subscribe_everything"})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != FrameError {
		t.Errorf("frame = %q, want %q", f.Type, FrameError)
	}
}

func TestCloseDisconnectsSessions(t *testing.T) {
	h := New(Options{Store: &stubStore{}, Log: zerolog.Nop()})

	conn := dialTestHub(t, h)
	readFrame(t, conn)
	if n := h.SessionCount(); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after hub close")
	}
	if n := h.SessionCount(); n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
}

func TestEnqueueOverflow(t *testing.T) {
	h := New(Options{Store: &stubStore{}, QueueSize: 2, Log: zerolog.Nop()})
	s := newSession(h, nil)

	if !s.enqueue([]byte("a")) || !s.enqueue([]byte("b")) {
		t.Fatal("enqueue within queue capacity failed")
	}
	if s.enqueue([]byte("c")) {
		t.Error("enqueue over capacity = true, want false")
	}

	// A finished session swallows frames instead of reporting overflow.
	close(s.done)
	if !s.enqueue([]byte("d")) {
		t.Error("enqueue after done = false, want true")
	}
}
