package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/config"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/metrics"
	"github.com/snarg/dispatch-intel/internal/storage"
)

// InsightsSource builds the medical-director analytics report.
type InsightsSource interface {
	BuildMedicalDirectorInsights(ctx context.Context) (*database.MedicalDirectorInsights, error)
}

// Deps are the components the API reads from.
type Deps struct {
	DB       *database.DB
	Store    storage.BlobStore
	Insights InsightsSource
	// WS handles /ws upgrades.
	WS http.HandlerFunc
	// Health reports component checks beyond the database.
	Health *HealthHandler
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	h := &handlers{
		db:       deps.DB,
		store:    deps.Store,
		insights: deps.Insights,
		cfg:      cfg,
		log:      log.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated: health and metrics.
	r.Get("/api/v1/health", deps.Health.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Get("/ws", deps.WS)

		r.Get("/api/calls/active", h.activeCalls)
		r.Get("/api/calls", h.searchCalls)
		r.Get("/api/calls/{id}/audio", h.callAudio)
		r.Get("/api/stats", h.stats)

		r.Get("/api/hospital-calls", h.hospitalCalls)
		r.Get("/api/hospital-calls/{id}/segments", h.hospitalSegments)
		r.Get("/api/analytics/medical-director-insights", h.medicalDirectorInsights)

		r.Get("/api/alerts/unread", h.unreadAlerts)

		r.Get("/api/config/talkgroups", h.configTalkgroups)
		r.Get("/api/config/systems", h.configSystems)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

// activeWindow bounds the /api/calls/active snapshot.
const activeWindow = 24 * time.Hour
