// Package monitor runs the continuous identity check over the live camera feed:
// throttled detection cycles, the two alert latches and the face overlay.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-guard/internal/camera"
	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/events"
	"github.com/kozaktomas/face-guard/internal/facerec"
	"github.com/kozaktomas/face-guard/internal/geometry"
	"github.com/kozaktomas/face-guard/internal/logger"
	"github.com/kozaktomas/face-guard/internal/metrics"
	"github.com/kozaktomas/face-guard/internal/session"
	"golang.org/x/time/rate"
)

var (
	ErrCameraNotReady = errors.New("camera is not ready")
	ErrEnded          = errors.New("monitoring has ended")
	ErrBusy           = errors.New("a detection is already in progress")
)

// State is the loop state: Idle -> CameraStarting -> CameraReady -> Verifying | Monitoring -> Ended.
type State int

const (
	Idle State = iota
	CameraStarting
	CameraReady
	Verifying
	Monitoring
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CameraStarting:
		return "camera_starting"
	case CameraReady:
		return "camera_ready"
	case Verifying:
		return "verifying"
	case Monitoring:
		return "monitoring"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Camera is the part of the camera manager the loop needs. It never controls the hardware
// beyond attaching its viewer to the shared stream.
type Camera interface {
	Attach(ctx context.Context, sink camera.Sink) bool
	Active() bool
	Err() error
}

// Viewer is the sink the loop reads frames from.
type Viewer interface {
	camera.Sink
	facerec.FrameSource
	Resolution() geometry.Size
	Detach()
}

type Detector interface {
	Detect(ctx context.Context, src facerec.FrameSource) (facerec.Sample, error)
}

type Comparator interface {
	Compare(d facerec.Descriptor) *facerec.Comparison
}

type References interface {
	Current() *facerec.Reference
}

// DetectionRecorder receives every evaluated frame.
type DetectionRecorder interface {
	RecordDetection(ctx context.Context, d session.Detection) error
}

// Deps are the collaborators of a Loop.
type Deps struct {
	Camera     Camera
	Viewer     Viewer
	Detector   Detector
	Comparator Comparator
	References References
	Sessions   DetectionRecorder
	Events     events.Publisher
}

// Options tunes a Loop. Zero values select the defaults.
type Options struct {
	Interval        time.Duration // minimum time between the starts of two cycles
	NoFaceThreshold int
	OverlaySize     geometry.Size // zero follows the frame resolution
	ReadyTimeout    time.Duration // how long Verify waits for a frame it can evaluate
}

// CycleResult describes one evaluated frame.
type CycleResult struct {
	ID         string        `json:"id"`
	Outcome    string        `json:"outcome"`
	Confidence *float64      `json:"confidence,omitempty"`
	Distance   *float64      `json:"distance,omitempty"`
	Match      *bool         `json:"match,omitempty"`
	Box        *geometry.Box `json:"box,omitempty"`
	FrameSeq   uint64        `json:"frame_seq"`
	At         time.Time     `json:"at"`
	Duration   time.Duration `json:"duration"`
	Counters   Counters      `json:"counters"`
}

// Loop schedules detection cycles over the shared camera stream. Cycles never overlap
// and start at least Interval apart. Once Stop returns no further cycle runs and the
// results of a cycle that was in flight are discarded.
type Loop struct {
	deps         Deps
	interval     time.Duration
	readyTimeout time.Duration
	alerts       *Alerts
	overlay      *Overlay
	logger       *slog.Logger
	metrics      metrics.Recorder

	inFlight atomic.Bool
	last     atomic.Pointer[CycleResult]

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(deps Deps, opts Options, l *slog.Logger, rec metrics.Recorder) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = constants.MonitorInterval
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = constants.VerifyReadyTimeout
	}
	deps.Events = events.OrDiscard(deps.Events)
	return &Loop{
		deps:         deps,
		interval:     opts.Interval,
		readyTimeout: opts.ReadyTimeout,
		alerts:       NewAlerts(opts.NoFaceThreshold),
		overlay:      NewOverlay(opts.OverlaySize),
		logger:       logger.OrDefault(l),
		metrics:      metrics.OrNop(rec),
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Alerts() *Alerts   { return l.alerts }
func (l *Loop) Overlay() *Overlay { return l.overlay }

// Last returns the most recent evaluated cycle, nil before the first one.
func (l *Loop) Last() *CycleResult {
	return l.last.Load()
}

// StartCamera attaches the viewer to the shared camera stream.
func (l *Loop) StartCamera(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case Ended:
		l.mu.Unlock()
		return ErrEnded
	case Verifying, Monitoring:
		l.mu.Unlock()
		return nil
	case CameraReady:
		if l.deps.Camera.Active() {
			l.mu.Unlock()
			return nil
		}
	}
	l.state = CameraStarting
	l.mu.Unlock()

	ok := l.deps.Camera.Attach(ctx, l.deps.Viewer)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != CameraStarting {
		return nil
	}
	if !ok {
		l.state = Idle
		if err := l.deps.Camera.Err(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrCameraNotReady
	}
	l.state = CameraReady
	return nil
}

// Start begins continuous monitoring. It is a no-op while monitoring.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked(ctx)
}

func (l *Loop) startLocked(ctx context.Context) error {
	switch l.state {
	case Monitoring:
		return nil
	case Ended:
		return ErrEnded
	case Idle, CameraStarting:
		return ErrCameraNotReady
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.state = Monitoring
	go l.run(ctx, done)

	l.logger.Info("monitoring started", slog.Duration("interval", l.interval))
	l.deps.Events.Publish(events.Event{Type: events.TypeMonitoringStarted})
	return nil
}

// Stop cancels monitoring and waits for the loop to exit. No-op when not monitoring.
func (l *Loop) Stop() {
	if l.stop() {
		l.mu.Lock()
		if l.state == Monitoring {
			l.state = CameraReady
		}
		l.mu.Unlock()
	}
}

// stop cancels the running loop and reports whether one was running.
func (l *Loop) stop() bool {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	l.logger.Info("monitoring stopped")
	l.deps.Events.Publish(events.Event{Type: events.TypeMonitoringStopped})
	return true
}

// End stops monitoring for good and clears the alert state and overlay.
func (l *Loop) End() {
	l.stop()
	l.mu.Lock()
	l.state = Ended
	l.mu.Unlock()
	l.alerts.Reset()
	l.overlay.Clear(geometry.Size{})
}

// Reset returns an ended or stopped loop to the camera state so a new flow can start.
func (l *Loop) Reset() {
	l.stop()
	l.mu.Lock()
	if l.deps.Camera.Active() {
		l.state = CameraReady
	} else {
		l.state = Idle
	}
	l.mu.Unlock()
	l.alerts.Reset()
	l.last.Store(nil)
	l.overlay.Clear(geometry.Size{})
}

// Release stops monitoring, detaches the viewer and returns to Idle. The camera
// itself is left to its manager.
func (l *Loop) Release() {
	l.stop()
	l.deps.Viewer.Detach()
	l.mu.Lock()
	l.state = Idle
	l.mu.Unlock()
	l.alerts.Reset()
	l.last.Store(nil)
	l.overlay.Clear(geometry.Size{})
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	limiter := rate.NewLimiter(rate.Every(l.interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		l.cycle(ctx)
	}
}

// cycle runs one detection. A cycle that finds another detection in flight is skipped.
func (l *Loop) cycle(ctx context.Context) {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.metrics.RecordCycle(metrics.OutcomeSkipped, 0)
		return
	}
	defer l.inFlight.Store(false)

	start := time.Now()
	sample, err := l.deps.Detector.Detect(ctx, l.deps.Viewer)
	if ctx.Err() != nil {
		l.metrics.RecordCycle(metrics.OutcomeDiscarded, time.Since(start))
		return
	}
	if err != nil {
		l.metrics.RecordCycle(metrics.OutcomeError, time.Since(start))
		l.logger.Warn("detection failed", slog.Any("error", err))
		return
	}
	if !sample.Evaluated() {
		l.metrics.RecordCycle(metrics.OutcomeSkipped, 0)
		return
	}

	res, det := l.evaluate(sample)
	res.Duration = time.Since(start)
	l.finish(ctx, res, det, true)
}

// evaluate classifies a sample and draws the overlay. The alert state is left to finish.
func (l *Loop) evaluate(sample facerec.Sample) (*CycleResult, session.Detection) {
	res := &CycleResult{
		ID:       uuid.NewString(),
		FrameSeq: sample.FrameSeq,
		At:       sample.CapturedAt,
	}
	if res.At.IsZero() {
		res.At = time.Now()
	}
	det := session.Detection{At: res.At}

	if sample.Kind != facerec.FaceFound || sample.Face == nil {
		res.Outcome = metrics.OutcomeNoFace
		l.overlay.Clear(l.deps.Viewer.Resolution())
		return res, det
	}

	face := sample.Face
	l.overlay.Render(face)

	conf := face.Confidence
	box := face.Box
	res.Confidence = &conf
	res.Box = &box
	det.FaceDetected = true
	det.Confidence = &conf
	det.Coordinates = database.CoordinatesFromBox(face.Box)

	cmp := l.deps.Comparator.Compare(face.Descriptor)
	switch {
	case cmp == nil:
		res.Outcome = metrics.OutcomeUndecided
	case cmp.Match:
		res.Outcome = metrics.OutcomeMatch
	default:
		res.Outcome = metrics.OutcomeMismatch
	}
	if cmp != nil {
		dist, match := cmp.Distance, cmp.Match
		res.Distance = &dist
		res.Match = &match
		det.FaceMatch = &match
	}
	return res, det
}

// finish records an evaluated cycle unless the loop was cancelled meanwhile. With
// monitor set the cycle also feeds the alert state; one-shot verification leaves it alone.
func (l *Loop) finish(ctx context.Context, res *CycleResult, det session.Detection, monitor bool) {
	if ctx.Err() != nil {
		l.metrics.RecordCycle(metrics.OutcomeDiscarded, res.Duration)
		return
	}
	if monitor {
		l.observe(res.Outcome)
	}
	res.Counters = l.alerts.Snapshot()
	l.last.Store(res)
	l.metrics.RecordCycle(res.Outcome, res.Duration)

	if err := l.deps.Sessions.RecordDetection(ctx, det); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		l.logger.Warn("recording detection failed", slog.Any("error", err))
	}
	l.deps.Events.Publish(events.Event{Type: events.TypeDetection, Data: res})
	l.logger.Debug("monitoring cycle",
		slog.String("cycle_id", res.ID),
		slog.String("outcome", res.Outcome),
		slog.Duration("duration", res.Duration),
	)
}

// observe applies a monitoring cycle's outcome to the alert latches.
func (l *Loop) observe(outcome string) {
	if outcome == metrics.OutcomeNoFace {
		if l.alerts.ObserveNoFace() {
			l.raise(AlertNoFace)
		}
		return
	}
	l.alerts.ObserveFace()
	if outcome == metrics.OutcomeMismatch && l.alerts.ObserveMismatch() {
		l.raise(AlertDifferentPerson)
	}
}

func (l *Loop) raise(kind AlertKind) {
	alert := AlertFor(kind)
	l.metrics.RecordAlert(string(kind))
	l.logger.Warn("alert raised", slog.String("kind", string(kind)))
	l.deps.Events.Publish(events.Event{Type: events.TypeAlertRaised, Message: alert.Message, Data: alert})
}

// AckNoFace acknowledges the no-face alert and resets its counter.
func (l *Loop) AckNoFace() bool {
	return l.ack(AlertNoFace, l.alerts.AckNoFace())
}

// AckDifferentPerson acknowledges the different-person alert.
func (l *Loop) AckDifferentPerson() bool {
	return l.ack(AlertDifferentPerson, l.alerts.AckDifferentPerson())
}

func (l *Loop) ack(kind AlertKind, was bool) bool {
	if was {
		l.deps.Events.Publish(events.Event{Type: events.TypeAlertAcknowledged, Data: AlertFor(kind)})
	}
	return was
}
