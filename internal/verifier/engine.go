// Package verifier wires the camera, models, reference, monitoring loop and session
// into the engine the API and CLI drive.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-guard/internal/camera"
	"github.com/kozaktomas/face-guard/internal/config"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/events"
	"github.com/kozaktomas/face-guard/internal/facerec"
	"github.com/kozaktomas/face-guard/internal/geometry"
	"github.com/kozaktomas/face-guard/internal/identity"
	"github.com/kozaktomas/face-guard/internal/logger"
	"github.com/kozaktomas/face-guard/internal/metrics"
	"github.com/kozaktomas/face-guard/internal/models"
	"github.com/kozaktomas/face-guard/internal/monitor"
	"github.com/kozaktomas/face-guard/internal/session"
)

// Readiness messages.
const (
	MsgLoadingModels    = "Loading facial recognition models..."
	MsgModelsLoaded     = "Facial recognition models loaded successfully. Please start camera."
	MsgCameraStarted    = "Camera started. Please position your face in the frame."
	MsgLoadingReference = "Loading reference face..."
	MsgReferenceLoaded  = "Reference face loaded successfully. Ready to verify."
)

// ErrNoUser is returned when an operation needs an authenticated user.
var ErrNoUser = errors.New("no authenticated user")

// Deps are the external collaborators of the engine.
type Deps struct {
	Models     *models.Loader
	Camera     *camera.Manager
	Recognizer facerec.Recognizer
	Sessions   database.SessionWriter
	Detections database.DetectionWriter
	Identity   *identity.Tracker
	Events     *events.Broadcaster

	// LocalReferences allows reference photos to be read from local files.
	LocalReferences bool
}

// Status is the readiness and verification state shown to UI consumers.
type Status struct {
	UserID          string                        `json:"user_id,omitempty"`
	ModelsLoaded    bool                          `json:"models_loaded"`
	ModelsLoading   bool                          `json:"models_loading"`
	ModelSource     string                        `json:"model_source,omitempty"`
	CameraReady     bool                          `json:"camera_ready"`
	State           string                        `json:"state"`
	ReferenceLoaded bool                          `json:"reference_loaded"`
	ReferenceURL    string                        `json:"reference_url,omitempty"`
	Message         string                        `json:"message,omitempty"`
	Error           string                        `json:"error,omitempty"`
	Action          string                        `json:"action,omitempty"`
	Alerts          monitor.Counters              `json:"alerts"`
	Session         *database.VerificationSession `json:"session,omitempty"`
	LastCycle       *monitor.CycleResult          `json:"last_cycle,omitempty"`
}

// Engine is the verification engine for one camera.
type Engine struct {
	models   *models.Loader
	camera   *camera.Manager
	viewer   *camera.Viewer
	refs     *facerec.ReferenceStore
	loop     *monitor.Loop
	sessions *session.Manager
	identity *identity.Tracker
	events   *events.Broadcaster
	logger   *slog.Logger
	metrics  metrics.Recorder

	mu      sync.Mutex
	message string
	errMsg  string
	action  string
}

// New builds the engine from its collaborators.
func New(cfg *config.Config, deps Deps, l *slog.Logger, rec metrics.Recorder) *Engine {
	log := logger.OrDefault(l)
	rec = metrics.OrNop(rec)
	if deps.Identity == nil {
		deps.Identity = identity.NewTracker(log)
	}
	if deps.Events == nil {
		deps.Events = events.NewBroadcaster()
	}

	viewer := camera.NewViewer()
	refs := facerec.NewReferenceStore(deps.Recognizer, deps.Models, log)
	refs.AllowLocalFiles(deps.LocalReferences)
	sessions := session.NewManager(deps.Sessions, deps.Detections, session.Options{
		PersistTimeout: cfg.Monitor.PersistTimeout,
		Viewport:       viewer.Resolution,
	}, log, rec)

	loop := monitor.NewLoop(monitor.Deps{
		Camera:     deps.Camera,
		Viewer:     viewer,
		Detector:   facerec.NewDetector(deps.Recognizer, deps.Models),
		Comparator: facerec.NewComparator(refs, cfg.Monitor.MatchThreshold),
		References: refs,
		Sessions:   sessions,
		Events:     deps.Events,
	}, monitor.Options{
		Interval:        cfg.Monitor.Interval,
		NoFaceThreshold: cfg.Monitor.NoFaceThreshold,
		OverlaySize:     geometry.Size{Width: cfg.Monitor.OverlayWidth, Height: cfg.Monitor.OverlayHeight},
	}, log, rec)

	return &Engine{
		models:   deps.Models,
		camera:   deps.Camera,
		viewer:   viewer,
		refs:     refs,
		loop:     loop,
		sessions: sessions,
		identity: deps.Identity,
		events:   deps.Events,
		logger:   log,
		metrics:  rec,
	}
}

func (e *Engine) Events() *events.Broadcaster { return e.events }
func (e *Engine) Identity() *identity.Tracker { return e.identity }
func (e *Engine) Loop() *monitor.Loop         { return e.loop }
func (e *Engine) Sessions() *session.Manager  { return e.sessions }

// setMessage records the current message and clears any error.
func (e *Engine) setMessage(typ, msg string) {
	e.mu.Lock()
	e.message, e.errMsg, e.action = msg, "", ""
	e.mu.Unlock()
	e.events.Publish(events.Event{Type: typ, Message: msg})
}

func (e *Engine) setError(typ, msg, action string, err error) {
	e.mu.Lock()
	e.errMsg, e.action = msg, action
	e.mu.Unlock()
	e.events.Publish(events.Event{Type: typ, Message: msg, Data: map[string]string{"action": action, "error": err.Error()}})
}

// LoadModels loads the model set once. Later calls return immediately.
func (e *Engine) LoadModels(ctx context.Context) error {
	if e.models.Ready() {
		return nil
	}
	e.setMessage(events.TypeStatus, MsgLoadingModels)
	set, err := e.models.Load(ctx)
	return e.modelsLoaded(set, err)
}

// RetryModels re-runs both loading stages.
func (e *Engine) RetryModels(ctx context.Context) error {
	e.setMessage(events.TypeStatus, MsgLoadingModels)
	set, err := e.models.Retry(ctx)
	return e.modelsLoaded(set, err)
}

func (e *Engine) modelsLoaded(set *models.Set, err error) error {
	if err != nil {
		msg := err.Error()
		var le *models.LoadError
		if errors.As(err, &le) {
			msg = le.UserMessage()
		}
		e.setError(events.TypeModelsFailed, msg, "Retry loading the models.", err)
		return err
	}
	e.logger.Info("models ready", slog.String("source", set.Source))
	e.setMessage(events.TypeModelsLoaded, MsgModelsLoaded)
	return nil
}

// StartCamera attaches the engine's viewer to the shared camera stream.
func (e *Engine) StartCamera(ctx context.Context) error {
	if err := e.loop.StartCamera(ctx); err != nil {
		msg, action := "Unable to access camera. Please check your camera permissions and try again.", "Retry starting the camera."
		var ce *camera.Error
		if errors.As(err, &ce) {
			msg = ce.UserMessage()
		}
		e.setError(events.TypeCameraError, msg, action, err)
		return err
	}
	e.setMessage(events.TypeCameraStarted, MsgCameraStarted)
	return nil
}

// StopCamera stops monitoring and releases the camera.
func (e *Engine) StopCamera() {
	e.loop.Release()
	e.camera.Stop()
	e.events.Publish(events.Event{Type: events.TypeCameraStopped})
}

// LoadReference derives the reference descriptor from a photo and stores it on the
// active session.
func (e *Engine) LoadReference(ctx context.Context, url string) (*facerec.Reference, error) {
	if err := e.LoadModels(ctx); err != nil {
		return nil, err
	}
	e.setMessage(events.TypeStatus, MsgLoadingReference)

	ref, err := e.refs.Load(ctx, url)
	if err != nil {
		msg, action := "Failed to load reference face. Please try again.", ""
		var re *facerec.ReferenceError
		if errors.As(err, &re) {
			msg, action = re.UserMessage(), re.Action()
		}
		e.setError(events.TypeReferenceFailed, msg, action, err)
		return nil, err
	}

	if e.sessions.Active() {
		u := database.SessionUpdate{ReferenceFaceURL: &ref.URL, ReferenceDescriptor: ref.Descriptor}
		if err := e.sessions.Update(ctx, u); err != nil {
			e.logger.Warn("storing reference on session failed", slog.Any("error", err))
		}
	}
	e.setMessage(events.TypeReferenceLoaded, MsgReferenceLoaded)
	return ref, nil
}

// BeginSession starts or reuses the pending session of the authenticated user.
func (e *Engine) BeginSession(ctx context.Context) (*database.VerificationSession, error) {
	userID, ok := e.identity.Current()
	if !ok {
		return nil, ErrNoUser
	}
	var refURL string
	ref := e.refs.Current()
	if ref != nil {
		refURL = ref.URL
	}
	s, err := e.sessions.Start(ctx, userID, refURL)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if ref != nil && len(s.ReferenceDescriptor) == 0 {
		_ = e.sessions.Update(ctx, database.SessionUpdate{ReferenceDescriptor: ref.Descriptor})
	}
	return e.sessions.Current(), nil
}

// Verify runs a one-shot verification within the user's session. A match starts
// continuous monitoring.
func (e *Engine) Verify(ctx context.Context) (*monitor.VerifyResult, error) {
	if e.loop.State() == monitor.Ended {
		e.loop.Reset()
	}
	if e.refs.Current() != nil {
		if _, err := e.BeginSession(ctx); err != nil {
			return nil, err
		}
	}
	res, err := e.loop.Verify(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if res.Matched() {
		e.message, e.errMsg, e.action = res.Message, "", ""
	} else {
		e.errMsg, e.action = res.Message, ""
	}
	e.mu.Unlock()
	return res, nil
}

// StartMonitoring begins continuous monitoring within the user's session.
func (e *Engine) StartMonitoring(ctx context.Context) error {
	if e.loop.State() == monitor.Ended {
		e.loop.Reset()
	}
	if _, err := e.BeginSession(ctx); err != nil {
		return err
	}
	return e.loop.Start(ctx)
}

// StopMonitoring cancels the monitoring loop. The session stays pending.
func (e *Engine) StopMonitoring() {
	e.loop.Stop()
}

func (e *Engine) AckNoFace() bool          { return e.loop.AckNoFace() }
func (e *Engine) AckDifferentPerson() bool { return e.loop.AckDifferentPerson() }

// EndSession stops monitoring and closes the active session with a terminal status.
func (e *Engine) EndSession(ctx context.Context, status database.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	cur := e.sessions.Current()
	e.loop.End()
	if err := e.sessions.End(ctx, status); err != nil {
		return err
	}
	if cur != nil {
		e.events.Publish(events.Event{Type: events.TypeSessionEnded, Data: map[string]string{
			"session_id": cur.ID,
			"status":     string(status),
		}})
	}
	return nil
}

// Status returns the current readiness and verification state.
func (e *Engine) Status() Status {
	s := Status{
		ModelsLoaded:  e.models.Ready(),
		ModelsLoading: e.models.Loading(),
		CameraReady:   e.camera.Active() && e.viewer.Ready(),
		State:         e.loop.State().String(),
		Alerts:        e.loop.Alerts().Snapshot(),
		Session:       e.sessions.Current(),
		LastCycle:     e.loop.Last(),
	}
	if set := e.models.Current(); set != nil {
		s.ModelSource = set.Source
	}
	if ref := e.refs.Current(); ref != nil {
		s.ReferenceLoaded = true
		s.ReferenceURL = ref.URL
	}
	if userID, ok := e.identity.Current(); ok {
		s.UserID = userID
	}
	e.mu.Lock()
	s.Message, s.Error, s.Action = e.message, e.errMsg, e.action
	e.mu.Unlock()
	return s
}

// Snapshot composites the overlay over the latest camera frame.
func (e *Engine) Snapshot() (image.Image, error) {
	frame, err := e.viewer.Frame()
	if err != nil {
		return nil, err
	}
	return e.loop.Overlay().Composite(frame.Data)
}

// Overlay returns the overlay surface.
func (e *Engine) Overlay() *monitor.Overlay {
	return e.loop.Overlay()
}

// Run follows the identity collaborator until ctx is cancelled: a login loads the
// models and starts the camera, a logout cancels monitoring and forgets the local
// session and reference. The camera manager follows the same transitions.
func (e *Engine) Run(ctx context.Context) {
	camEvents := e.identity.Subscribe()
	defer e.identity.Unsubscribe(camEvents)
	go e.camera.Follow(ctx, camEvents)

	ch := e.identity.Subscribe()
	defer e.identity.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			e.loop.Stop()
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case identity.Login:
				e.onLogin(ctx, ev.UserID)
			case identity.Logout:
				e.onLogout(ev.UserID)
			}
		}
	}
}

func (e *Engine) onLogin(ctx context.Context, userID string) {
	start := time.Now()
	if err := e.LoadModels(ctx); err != nil {
		e.logger.Warn("loading models after login failed", slog.String("user_id", userID), slog.Any("error", err))
	}
	if err := e.StartCamera(ctx); err != nil {
		e.logger.Warn("starting camera after login failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	e.logger.Info("engine ready for user", slog.String("user_id", userID), slog.Duration("took", time.Since(start)))
}

func (e *Engine) onLogout(userID string) {
	e.loop.Release()
	e.sessions.Cleanup()
	e.refs.Clear()
	e.logger.Info("engine cleared after logout", slog.String("user_id", userID))
}
