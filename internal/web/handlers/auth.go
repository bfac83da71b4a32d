package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/identity"
	"github.com/kozaktomas/face-guard/internal/web/middleware"
)

// AuthHandler handles authentication endpoints. A login publishes the user to the
// identity tracker, which drives camera start and cleanup on logout.
type AuthHandler struct {
	config         *config.Config
	sessionManager *middleware.SessionManager
	identity       *identity.Tracker
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config, sm *middleware.SessionManager, tracker *identity.Tracker) *AuthHandler {
	return &AuthHandler{
		config:         cfg,
		sessionManager: sm,
		identity:       tracker,
	}
}

type loginRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Login authenticates a user id and makes it the engine's current user
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if want := h.config.Web.LoginToken; want != "" {
		if subtle.ConstantTimeCompare([]byte(req.Token), []byte(want)) != 1 {
			slog.Warn("login rejected", slog.String("user_id", sanitizeForLog(req.UserID)))
			respondJSON(w, http.StatusUnauthorized, LoginResponse{
				Success: false,
				Error:   "invalid credentials",
			})
			return
		}
	}

	session, err := h.sessionManager.CreateSession(req.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, r, session)

	// One camera serves one user: sessions of the previous user stop working.
	if previous, ok := h.identity.Current(); ok && previous != req.UserID {
		h.sessionManager.DeleteUserSessions(previous)
	}
	h.identity.Login(req.UserID)

	respondJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// Logout ends the API session and logs the user out of the engine
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		h.sessionManager.DeleteUserSessions(session.UserID)
		if current, ok := h.identity.Current(); ok && current == session.UserID {
			h.identity.Logout()
		}
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// Status checks if the user is authenticated by validating the session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, StatusResponse{Authenticated: false})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		UserID:        session.UserID,
		ExpiresAt:     session.ExpiresAt.Format(time.RFC3339),
	})
}
