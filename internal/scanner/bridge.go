package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pingInterval  = 30 * time.Second
	idleReadLimit = 60 * time.Second
	writeTimeout  = 10 * time.Second

	reconnectBase = 2 * time.Second
	reconnectCap  = 30 * time.Second
)

// BridgeOptions configures the bridge socket client.
type BridgeOptions struct {
	URL        string
	Systems    []string
	Talkgroups []int
	// OnCall receives each decoded call message. Blocking here is the
	// backpressure path: the socket read loop stalls until it returns.
	OnCall func(ctx context.Context, cm *CallMessage)
	// IdleRead drops the connection when no frame or pong arrives for
	// this long (default 60s).
	IdleRead time.Duration
	Log      zerolog.Logger
}

// Bridge maintains a persistent websocket to the scanner bridge, handles
// subscription, heartbeats, and reconnect with exponential backoff.
type Bridge struct {
	opts BridgeOptions
	log  zerolog.Logger
}

func NewBridge(opts BridgeOptions) *Bridge {
	if opts.IdleRead <= 0 {
		opts.IdleRead = idleReadLimit
	}
	return &Bridge{
		opts: opts,
		log:  opts.Log.With().Str("component", "scanner-bridge").Logger(),
	}
}

// Run connects and consumes the call stream until ctx is cancelled.
// Connection loss triggers reconnect with exponential backoff; the backoff
// resets after a successful subscribe.
func (b *Bridge) Run(ctx context.Context) {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		err := b.session(ctx)
		if ctx.Err() != nil {
			return
		}
		b.log.Warn().Err(err).Dur("retry_in", backoff).Msg("bridge session ended, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

// session runs one connect-subscribe-read cycle.
func (b *Bridge) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.opts.URL, err)
	}
	defer conn.Close()

	if err := b.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	b.log.Info().Str("url", b.opts.URL).
		Strs("systems", b.opts.Systems).Ints("talkgroups", b.opts.Talkgroups).
		Msg("bridge connected")

	conn.SetReadDeadline(time.Now().Add(b.opts.IdleRead))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.opts.IdleRead))
	})

	// Close the socket when ctx ends so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(writeTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(b.opts.IdleRead))

		msg, err := Decode(frame)
		if err != nil {
			b.log.Warn().Err(err).Msg("undecodable bridge frame dropped")
			continue
		}
		switch msg.Kind {
		case KindCall:
			if b.opts.OnCall != nil {
				b.opts.OnCall(ctx, msg.Call)
			}
		case KindConfig:
			b.log.Info().RawJSON("config", msg.Config).Msg("bridge config received")
		case KindPong:
			// handled by read deadline reset above
		default:
			b.log.Debug().Str("type", msg.RawType).Msg("unknown bridge message dropped")
		}
	}
}

// subscribe announces the monitored systems and talkgroups. Some bridge
// builds expect a command/filter shape instead; both are sent, the bridge
// ignores the one it doesn't understand.
func (b *Bridge) subscribe(conn *websocket.Conn) error {
	sub := map[string]any{
		"type":       "subscribe",
		"systems":    b.opts.Systems,
		"talkgroups": b.opts.Talkgroups,
	}
	if err := writeJSON(conn, sub); err != nil {
		return err
	}
	legacy := map[string]any{
		"command": "subscribe",
		"filter": map[string]any{
			"systems":    b.opts.Systems,
			"talkgroups": b.opts.Talkgroups,
		},
	}
	return writeJSON(conn, legacy)
}

func writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
