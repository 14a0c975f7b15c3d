package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/snarg/dispatch-intel/internal/database"
)

const (
	writeWait       = 10 * time.Second
	pongGrace       = 5 * time.Second
	maxRequestBytes = 8 * 1024
	snapshotWindow  = 24 * time.Hour
	snapshotLimit   = 100
	searchLimitCap  = 200
	requestDeadline = 10 * time.Second
)

// searchRequest is the client-initiated search_calls payload.
type searchRequest struct {
	Search    string  `json:"search"`
	Talkgroup *int    `json:"talkgroup,omitempty"`
	CallType  string  `json:"call_type,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

type searchResults struct {
	Calls []database.CallAPI `json:"calls"`
	Total int                `json:"total"`
}

// session is one connected client. All writes go through the send queue
// and a single writer pump, so frames arrive in enqueue order.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.opts.QueueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. A false return means the
// client is too slow to keep up.
func (s *session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump is the session's only writer: queued frames in FIFO order,
// interleaved with heartbeat pings.
func (s *session) writePump() {
	ticker := time.NewTicker(s.hub.opts.Heartbeat)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			hb, _ := marshalFrame(FrameHeartbeat, map[string]string{
				"time": time.Now().UTC().Format(time.RFC3339),
			})
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, hb); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump consumes client frames and keeps the pong deadline fresh.
// Returning unregisters the session.
func (s *session) readPump() {
	defer s.hub.drop(s)

	idle := s.hub.opts.Heartbeat + pongGrace
	s.conn.SetReadLimit(maxRequestBytes)
	s.conn.SetReadDeadline(time.Now().Add(idle))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(idle))
		s.handleRequest(msg)
	}
}

func (s *session) handleRequest(msg []byte) {
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.sendError("malformed frame")
		return
	}

	switch frame.Type {
	case "search_calls":
		var req searchRequest
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				s.sendError("malformed search request")
				return
			}
		}
		s.handleSearch(req)
	case "ping":
		hb, _ := marshalFrame(FrameHeartbeat, map[string]string{
			"time": time.Now().UTC().Format(time.RFC3339),
		})
		s.enqueue(hb)
	default:
		s.sendError("unknown request type")
	}
}

func (s *session) handleSearch(req searchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), requestDeadline)
	defer cancel()

	filter := database.CallFilter{
		Search:    req.Search,
		Talkgroup: req.Talkgroup,
		CallType:  req.CallType,
		Limit:     req.Limit,
	}
	if filter.Limit <= 0 || filter.Limit > searchLimitCap {
		filter.Limit = searchLimitCap
	}
	if req.StartTime != nil {
		if t, err := time.Parse(time.RFC3339, *req.StartTime); err == nil {
			filter.StartTime = &t
		}
	}
	if req.EndTime != nil {
		if t, err := time.Parse(time.RFC3339, *req.EndTime); err == nil {
			filter.EndTime = &t
		}
	}

	calls, total, err := s.hub.opts.Store.SearchCalls(ctx, filter)
	if err != nil {
		s.hub.log.Warn().Err(err).Msg("hub search failed")
		s.sendError("search failed")
		return
	}
	frame, err := marshalFrame(FrameSearchResults, searchResults{Calls: calls, Total: total})
	if err != nil {
		return
	}
	s.enqueue(frame)
}

// sendSnapshot pushes the initial_calls frame a client receives on connect.
func (s *session) sendSnapshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	calls, err := s.hub.opts.Store.ListActiveCalls(ctx, time.Now().Add(-snapshotWindow), snapshotLimit)
	if err != nil {
		s.hub.log.Warn().Err(err).Msg("snapshot query failed")
		s.sendError("snapshot unavailable")
		return
	}
	frame, err := marshalFrame(FrameInitialCalls, calls)
	if err != nil {
		return
	}
	s.enqueue(frame)
}

func (s *session) sendError(message string) {
	frame, err := marshalFrame(FrameError, map[string]string{"message": message})
	if err != nil {
		return
	}
	s.enqueue(frame)
}
