package handlers

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kozaktomas/face-guard/internal/camera"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/events"
	"github.com/kozaktomas/face-guard/internal/facerec"
	"github.com/kozaktomas/face-guard/internal/models"
	"github.com/kozaktomas/face-guard/internal/monitor"
	"github.com/kozaktomas/face-guard/internal/session"
	"github.com/kozaktomas/face-guard/internal/verifier"
	"github.com/kozaktomas/face-guard/internal/web/middleware"
)

// Engine is the verification engine as driven over HTTP.
type Engine interface {
	Status() verifier.Status
	RetryModels(ctx context.Context) error
	StartCamera(ctx context.Context) error
	StopCamera()
	LoadReference(ctx context.Context, url string) (*facerec.Reference, error)
	Verify(ctx context.Context) (*monitor.VerifyResult, error)
	StartMonitoring(ctx context.Context) error
	StopMonitoring()
	AckNoFace() bool
	AckDifferentPerson() bool
	EndSession(ctx context.Context, status database.Status) error
	Snapshot() (image.Image, error)
	Overlay() *monitor.Overlay
	Events() *events.Broadcaster
}

// EngineHandler exposes the verification engine of the signed-in user.
type EngineHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewEngineHandler creates a new engine handler
func NewEngineHandler(e Engine, l *slog.Logger) *EngineHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EngineHandler{engine: e, logger: l}
}

// respondEngineError maps engine failures onto status codes and user-facing text.
func (h *EngineHandler) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		camErr   *camera.Error
		refErr   *facerec.ReferenceError
		modelErr *models.LoadError
	)
	switch {
	case errors.As(err, &camErr):
		respondErrorAction(w, http.StatusServiceUnavailable, camErr.UserMessage(), "Retry starting the camera.")
	case errors.As(err, &refErr):
		respondErrorAction(w, http.StatusUnprocessableEntity, refErr.UserMessage(), refErr.Action())
	case errors.As(err, &modelErr):
		respondErrorAction(w, http.StatusServiceUnavailable, modelErr.UserMessage(), "Retry loading the models.")
	case errors.Is(err, facerec.ErrModelsNotReady):
		respondErrorAction(w, http.StatusServiceUnavailable, "facial recognition models are not loaded", "Retry loading the models.")
	case errors.Is(err, monitor.ErrCameraNotReady):
		respondErrorAction(w, http.StatusConflict, "camera is not ready", "Start the camera first.")
	case errors.Is(err, monitor.ErrBusy):
		respondErrorAction(w, http.StatusConflict, "a verification is already in progress", "Wait for it to finish.")
	case errors.Is(err, monitor.ErrEnded):
		respondErrorAction(w, http.StatusConflict, "monitoring has ended", "Start a new verification.")
	case errors.Is(err, verifier.ErrNoUser):
		respondErrorAction(w, http.StatusConflict, "no user is signed in to the engine", "Log in and try again.")
	case errors.Is(err, session.ErrNoActiveSession):
		respondError(w, http.StatusNotFound, "no active verification session")
	default:
		h.logger.Error("engine request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// Status returns readiness, state, alert counters and the active session.
func (h *EngineHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// RetryModels reloads the model set after a failure.
func (h *EngineHandler) RetryModels(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RetryModels(r.Context()); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// StartCamera acquires the camera and attaches the engine to it.
func (h *EngineHandler) StartCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartCamera(r.Context()); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// StopCamera stops monitoring and releases the camera.
func (h *EngineHandler) StopCamera(w http.ResponseWriter, r *http.Request) {
	h.engine.StopCamera()
	respondJSON(w, http.StatusOK, h.engine.Status())
}

type referenceRequest struct {
	URL string `json:"url"`
}

// ReferenceResponse describes a loaded reference face.
type ReferenceResponse struct {
	URL        string  `json:"url"`
	Confidence float64 `json:"confidence"`
	Dimensions int     `json:"dimensions"`
}

// isRemoteImageURL reports whether raw is an absolute http(s) URL. Local paths are
// never accepted over HTTP.
func isRemoteImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// LoadReference derives the reference descriptor from the user's photo.
func (h *EngineHandler) LoadReference(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !isRemoteImageURL(req.URL) {
		respondError(w, http.StatusBadRequest, "url must be an http or https URL")
		return
	}

	ref, err := h.engine.LoadReference(r.Context(), req.URL)
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ReferenceResponse{
		URL:        ref.URL,
		Confidence: ref.Confidence,
		Dimensions: len(ref.Descriptor),
	})
}

// Verify runs a one-shot verification. A match starts continuous monitoring.
func (h *EngineHandler) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Verify(r.Context())
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// StartMonitoring begins continuous monitoring.
func (h *EngineHandler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartMonitoring(r.Context()); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, h.engine.Status())
}

// StopMonitoring cancels the monitoring loop, the session stays pending.
func (h *EngineHandler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	h.engine.StopMonitoring()
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// AckResponse reports whether an acknowledgment cleared a raised alert.
type AckResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// AckNoFace acknowledges the no-face alert.
func (h *EngineHandler) AckNoFace(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, AckResponse{Acknowledged: h.engine.AckNoFace()})
}

// AckDifferentPerson acknowledges the different-person alert.
func (h *EngineHandler) AckDifferentPerson(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, AckResponse{Acknowledged: h.engine.AckDifferentPerson()})
}

// Session returns the active verification session.
func (h *EngineHandler) Session(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Status().Session
	if s == nil {
		respondError(w, http.StatusNotFound, "no active verification session")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

type endSessionRequest struct {
	Status string `json:"status"`
}

// EndSession closes the active session with a terminal status.
func (h *EngineHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status := database.Status(req.Status)
	if !status.Terminal() {
		respondError(w, http.StatusBadRequest, "status must be one of verified, failed, expired")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.engine.EndSession(r.Context(), status); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	h.logger.Info("verification session ended via api", slog.String("user_id", sanitizeForLog(userID)), slog.String("status", string(status)))
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// OverlayPNG serves the overlay surface as a transparent PNG.
func (h *EngineHandler) OverlayPNG(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.engine.Overlay().WritePNG(w); err != nil {
		h.logger.Warn("writing overlay failed", slog.Any("error", err))
	}
}

// Snapshot serves the latest camera frame with the overlay drawn on top.
func (h *EngineHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	img, err := h.engine.Snapshot()
	if errors.Is(err, camera.ErrFrameNotReady) {
		respondErrorAction(w, http.StatusConflict, "camera is not ready", "Start the camera first.")
		return
	}
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 85}); err != nil {
		h.logger.Warn("writing snapshot failed", slog.Any("error", err))
	}
}
