package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/config"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/storage"
)

type handlers struct {
	db       *database.DB
	store    storage.BlobStore
	insights InsightsSource
	cfg      *config.Config
	log      zerolog.Logger
}

// GET /api/calls/active
func (h *handlers) activeCalls(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	calls, err := h.db.ListActiveCalls(r.Context(), time.Now().Add(-activeWindow), p.Limit)
	if err != nil {
		h.log.Error().Err(err).Msg("active calls query failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "could not load active calls")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"calls": calls, "count": len(calls)})
}

// GET /api/calls?search=&talkgroup=&call_type=&start_time=&end_time=
func (h *handlers) searchCalls(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	filter := database.CallFilter{Limit: p.Limit, Offset: p.Offset}
	filter.Search, _ = QueryString(r, "search")
	filter.CallType, _ = QueryString(r, "call_type")
	if tg, ok := QueryInt(r, "talkgroup"); ok {
		filter.Talkgroup = &tg
	}
	if t, ok := QueryTime(r, "start_time"); ok {
		filter.StartTime = &t
	}
	if t, ok := QueryTime(r, "end_time"); ok {
		filter.EndTime = &t
	}

	calls, total, err := h.db.SearchCalls(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("call search failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "search failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"calls": calls, "total": total, "limit": p.Limit, "offset": p.Offset,
	})
}

// GET /api/calls/{id}/audio streams the call's blob with its stored
// content type. Blobs are reachable only through this route.
func (h *handlers) callAudio(w http.ResponseWriter, r *http.Request) {
	callID, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "invalid call id")
		return
	}

	call, err := h.db.GetCallByID(r.Context(), callID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "call not found")
			return
		}
		h.log.Error().Err(err).Int64("call_id", callID).Msg("call lookup failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "call lookup failed")
		return
	}
	if call.SegmentID == "" {
		WriteError(w, http.StatusNotFound, "not_found", "call has no audio segment")
		return
	}

	seg, err := h.db.GetSegment(r.Context(), call.SegmentID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "audio segment not found")
		return
	}

	blob, err := h.store.Open(r.Context(), seg.BlobKey)
	if err != nil {
		h.log.Warn().Err(err).Str("blob_key", seg.BlobKey).Msg("blob open failed")
		WriteError(w, http.StatusNotFound, "not_found", "audio unavailable")
		return
	}
	defer blob.Close()

	contentType := seg.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, blob); err != nil {
		h.log.Debug().Err(err).Msg("audio stream interrupted")
	}
}

// GET /api/stats
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.db.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("stats query failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "stats unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

// GET /api/hospital-calls?since=
func (h *handlers) hospitalCalls(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	since := time.Now().Add(-activeWindow)
	if t, ok := QueryTime(r, "since"); ok {
		since = t
	}

	convs, err := h.db.ListConversations(r.Context(), since, p.Limit)
	if err != nil {
		h.log.Error().Err(err).Msg("hospital conversations query failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "could not load conversations")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"conversations": convs, "count": len(convs)})
}

// GET /api/hospital-calls/{id}/segments
func (h *handlers) hospitalSegments(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "missing conversation id")
		return
	}

	segments, err := h.db.SegmentsByConversation(r.Context(), conversationID)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", conversationID).Msg("segments query failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "could not load segments")
		return
	}
	if len(segments) == 0 {
		WriteError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"conversation_id": conversationID, "segments": segments})
}

// GET /api/analytics/medical-director-insights
func (h *handlers) medicalDirectorInsights(w http.ResponseWriter, r *http.Request) {
	report, err := h.insights.BuildMedicalDirectorInsights(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("insights build failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "insights unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// GET /api/alerts/unread
func (h *handlers) unreadAlerts(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	alerts, err := h.db.ListUnreadAlerts(r.Context(), p.Limit)
	if err != nil {
		h.log.Error().Err(err).Msg("unread alerts query failed")
		WriteError(w, http.StatusInternalServerError, "query_failed", "could not load alerts")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// GET /api/config/talkgroups
func (h *handlers) configTalkgroups(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"talkgroups":          h.cfg.ScannerTalkgroups,
		"hospital_talkgroups": h.cfg.HospitalTalkgroups,
	})
}

// GET /api/config/systems
func (h *handlers) configSystems(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"systems": h.cfg.ScannerSystems})
}
