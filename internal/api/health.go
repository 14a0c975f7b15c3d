package api

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/scanner"
	"github.com/snarg/dispatch-intel/internal/transcribe"
)

type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]string      `json:"checks"`
	Bridge        *scanner.Status        `json:"bridge,omitempty"`
	Queue         *transcribe.QueueStats `json:"queue,omitempty"`
	HubSessions   int                    `json:"hub_sessions"`
}

// HealthHandler reports component health for /api/v1/health. Degraded
// components return 200 with status "degraded"; a dead database returns 503.
type HealthHandler struct {
	db         *database.DB
	redis      *redis.Client
	supervisor *scanner.Supervisor
	pool       *transcribe.WorkerPool
	sessions   func() int
	version    string
	startTime  time.Time
}

func NewHealthHandler(db *database.DB, rdb *redis.Client, sup *scanner.Supervisor,
	pool *transcribe.WorkerPool, sessions func() int, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:         db,
		redis:      rdb,
		supervisor: sup,
		pool:       pool,
		sessions:   sessions,
		version:    version,
		startTime:  startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Ping(r.Context()).Err(); err != nil {
			checks["redis"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "not_configured"
	}

	resp := HealthResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	if h.supervisor != nil {
		st := h.supervisor.Status()
		resp.Bridge = &st
		switch st.State {
		case scanner.StateRunning:
			checks["bridge"] = "ok"
		case scanner.StateRestartFailed:
			checks["bridge"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		default:
			checks["bridge"] = st.State
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["bridge"] = "not_configured"
	}

	if h.pool != nil {
		qs := h.pool.Stats()
		resp.Queue = &qs
		checks["transcription"] = "ok"
	}
	if h.sessions != nil {
		resp.HubSessions = h.sessions()
	}

	resp.Status = status
	WriteJSON(w, httpStatus, resp)
}
