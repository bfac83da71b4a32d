package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/web/middleware"
)

const maxListLimit = 500

// AuditHandler serves the stored sessions and detection trail of the signed-in user.
type AuditHandler struct {
	sessions   database.SessionReader
	detections database.DetectionReader
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(sessions database.SessionReader, detections database.DetectionReader) *AuditHandler {
	return &AuditHandler{sessions: sessions, detections: detections}
}

// SessionDetail is a session with its detection trail.
type SessionDetail struct {
	Session        *database.VerificationSession `json:"session"`
	DetectionCount int                           `json:"detection_count"`
	Detections     []database.DetectionRecord    `json:"detections"`
}

// parseLimit reads the limit query parameter.
func parseLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxListLimit)
}

// List returns the user's sessions, newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	sessions, err := h.sessions.ListSessions(r.Context(), userID, parseLimit(r, constants.DefaultSessionListLimit))
	if err != nil {
		slog.Error("listing sessions failed", slog.String("user_id", sanitizeForLog(userID)), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []database.VerificationSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

// Get returns one of the user's sessions with its detections.
func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	s, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("loading session failed", slog.String("session_id", sanitizeForLog(id)), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	// Other users' sessions are reported as missing.
	if s == nil || s.UserID != userID {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	detections, err := h.detections.ListDetections(r.Context(), id, parseLimit(r, constants.DefaultDetectionListLimit))
	if err != nil {
		slog.Error("listing detections failed", slog.String("session_id", sanitizeForLog(id)), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to list detections")
		return
	}
	count, err := h.detections.CountDetections(r.Context(), id)
	if err != nil {
		count = len(detections)
	}
	if detections == nil {
		detections = []database.DetectionRecord{}
	}

	respondJSON(w, http.StatusOK, SessionDetail{
		Session:        s,
		DetectionCount: count,
		Detections:     detections,
	})
}
