package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/metrics"
)

// Frame types pushed to clients.
const (
	FrameInitialCalls  = "initial_calls"
	FrameNewCall       = "new_call"
	FrameCallUpdate    = "call_update"
	FrameStatsUpdate   = "stats_update"
	FrameSystemHealth  = "system_health"
	FrameHeartbeat     = "heartbeat"
	FrameSearchResults = "search_results"
	FrameNewAlert      = "new_alert"
	FrameCriticalAlert = "critical_alert"
	FrameError         = "error"
)

// Frame is the wire envelope for every hub message, both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Store is the slice of the database the hub reads from.
type Store interface {
	ListActiveCalls(ctx context.Context, since time.Time, limit int) ([]database.CallAPI, error)
	SearchCalls(ctx context.Context, filter database.CallFilter) ([]database.CallAPI, int, error)
}

// Options configures the hub.
type Options struct {
	Store Store
	// Heartbeat is the server ping cadence (default 25s). Clients that
	// miss a pong within Heartbeat+5s are dropped.
	Heartbeat time.Duration
	// QueueSize bounds each session's send queue (default 256). A slow
	// client that overflows its queue is disconnected.
	QueueSize int
	Log       zerolog.Logger
}

// Hub fans processed-call, stats, and alert events out to WebSocket
// sessions. Events are not replayed: a reconnecting client starts from a
// fresh initial_calls snapshot.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}
	closed   bool
}

func New(opts Options) *Hub {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:      opts.Log.With().Str("component", "hub").Logger(),
		sessions: make(map[*session]struct{}),
	}
}

// ServeWS upgrades the request and runs the session until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s := newSession(h, conn)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	metrics.HubSessions.Set(float64(n))
	h.log.Info().Str("remote", r.RemoteAddr).Int("sessions", n).Msg("client connected")

	go s.writePump()
	s.sendSnapshot(r.Context())
	s.readPump()
}

func (h *Hub) drop(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		s.close()
		metrics.HubSessions.Set(float64(n))
		h.log.Info().Int("sessions", n).Msg("client disconnected")
	}
}

// Close disconnects every session. New connections are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[*session]struct{})
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// SessionCount reports the number of connected clients.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) broadcast(frameType string, payload any) {
	frame, err := marshalFrame(frameType, payload)
	if err != nil {
		h.log.Warn().Err(err).Str("frame", frameType).Msg("frame marshal failed")
		return
	}

	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if !s.enqueue(frame) {
			h.log.Warn().Msg("slow client dropped, send queue full")
			h.drop(s)
		}
	}
}

func marshalFrame(frameType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Frame{Type: frameType, Data: data})
}

// NotifyNewCall pushes a freshly processed call to all clients.
func (h *Hub) NotifyNewCall(call *database.CallAPI) {
	h.broadcast(FrameNewCall, call)
}

// NotifyCallUpdate pushes a re-processed (merged) call to all clients.
func (h *Hub) NotifyCallUpdate(call *database.CallAPI) {
	h.broadcast(FrameCallUpdate, call)
}

// NotifyAlert pushes an alert; critical severities get their own frame type.
func (h *Hub) NotifyAlert(a *database.AlertRow) {
	frameType := FrameNewAlert
	if a.Severity == database.SeverityCritical {
		frameType = FrameCriticalAlert
	}
	h.broadcast(frameType, a)
}

// BroadcastStats pushes a stats snapshot to all clients.
func (h *Hub) BroadcastStats(s *database.StatsSnapshot) {
	h.broadcast(FrameStatsUpdate, s)
}

// BroadcastHealth pushes a component-health report to all clients.
func (h *Hub) BroadcastHealth(health any) {
	h.broadcast(FrameSystemHealth, health)
}
