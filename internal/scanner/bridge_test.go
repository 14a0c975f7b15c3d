package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// A server that answers the subscribe, delivers one call, then goes silent.
// The configured idle deadline has to drop the connection, including after
// the first frame resets it.
func TestSessionIdleReadConfigured(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame := `{"type":"call","data":{"system":1,"talkgroup":10202,"dateTime":1724500000,"audio":"aGVsbG8="}}`
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		// Drain subscribe frames and hold the connection open, silent,
		// until the client gives up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	calls := make(chan *CallMessage, 1)
	b := NewBridge(BridgeOptions{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		IdleRead: 150 * time.Millisecond,
		OnCall: func(_ context.Context, cm *CallMessage) {
			calls <- cm
		},
		Log: zerolog.Nop(),
	})

	start := time.Now()
	err := b.session(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("session returned nil, want read timeout")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("session held the idle connection for %v", elapsed)
	}
	select {
	case cm := <-calls:
		if cm.Talkgroup != 10202 {
			t.Errorf("Talkgroup = %d, want 10202", cm.Talkgroup)
		}
	default:
		t.Error("call frame was not delivered before the idle drop")
	}
}
