// Package session keeps the active verification session of the engine in sync
// with the session store and appends the detection audit trail.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/geometry"
	"github.com/kozaktomas/face-guard/internal/logger"
	"github.com/kozaktomas/face-guard/internal/metrics"
)

// ErrNoActiveSession is returned by mutating operations when no session is active.
var ErrNoActiveSession = errors.New("no active verification session")

// Options configures a Manager.
type Options struct {
	PersistTimeout time.Duration        // bounds every single store write
	UserAgent      string               // recorded in the device snapshot
	Viewport       func() geometry.Size // capture resolution in use, may be nil
}

// Detection is one evaluated frame as reported by the monitoring loop.
type Detection struct {
	FaceDetected bool
	Confidence   *float64
	FaceMatch    *bool // nil when no comparison was attempted
	Coordinates  *database.FaceCoordinates
	At           time.Time
}

// Manager owns the local copy of the active session. Store failures are logged and
// never surface to the caller, except when creating a session.
type Manager struct {
	sessions   database.SessionWriter
	detections database.DetectionWriter
	opts       Options
	logger     *slog.Logger
	metrics    metrics.Recorder

	startMu   sync.Mutex // serializes Start
	persistMu sync.Mutex // keeps store writes in local order
	mu        sync.Mutex
	current   *database.VerificationSession
}

func NewManager(sessions database.SessionWriter, detections database.DetectionWriter, opts Options, l *slog.Logger, rec metrics.Recorder) *Manager {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = constants.PersistTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "face-guard"
	}
	return &Manager{
		sessions:   sessions,
		detections: detections,
		opts:       opts,
		logger:     logger.OrDefault(l),
		metrics:    metrics.OrNop(rec),
	}
}

// Start returns the user's pending session, reusing the local one or the one in the
// store, and creates a new session only when the user has none.
func (m *Manager) Start(ctx context.Context, userID, referenceURL string) (*database.VerificationSession, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.start(ctx, userID, referenceURL, true)
}

func (m *Manager) start(ctx context.Context, userID, referenceURL string, retry bool) (*database.VerificationSession, error) {
	m.mu.Lock()
	cur := m.current
	if cur != nil && cur.UserID != userID {
		// A different user's session is only dropped locally.
		m.current = nil
		cur = nil
	}
	m.mu.Unlock()

	if cur == nil {
		existing, err := m.lookup(ctx, userID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			existing, err = m.create(ctx, userID, referenceURL)
			if err != nil {
				return nil, err
			}
		} else {
			m.logger.Info("reusing pending verification session",
				slog.String("session_id", existing.ID), slog.String("user_id", userID))
		}
		m.mu.Lock()
		m.current = existing
		m.mu.Unlock()
		cur = existing
	}

	if referenceURL != "" && referenceURL != cur.ReferenceFaceURL {
		err := m.Update(ctx, database.SessionUpdate{ReferenceFaceURL: &referenceURL})
		if errors.Is(err, ErrNoActiveSession) && retry {
			// The local session was ended elsewhere; pick up or create a fresh one.
			return m.start(ctx, userID, referenceURL, false)
		}
	}
	if cur := m.Current(); cur != nil {
		return cur, nil
	}
	return nil, ErrNoActiveSession
}

func (m *Manager) lookup(ctx context.Context, userID string) (*database.VerificationSession, error) {
	wctx, cancel := m.writeContext(ctx)
	defer cancel()
	s, err := m.sessions.ActiveSession(wctx, userID)
	if err != nil {
		m.persistFailed("active_session", err)
		return nil, fmt.Errorf("looking up active session: %w", err)
	}
	return s, nil
}

func (m *Manager) create(ctx context.Context, userID, referenceURL string) (*database.VerificationSession, error) {
	var viewport geometry.Size
	if m.opts.Viewport != nil {
		viewport = m.opts.Viewport()
	}
	s := &database.VerificationSession{
		UserID:           userID,
		Status:           database.StatusPending,
		StartedAt:        time.Now(),
		ReferenceFaceURL: referenceURL,
		DeviceInfo:       Snapshot(m.opts.UserAgent, viewport),
	}

	wctx, cancel := m.writeContext(ctx)
	defer cancel()
	err := m.sessions.CreateSession(wctx, s)
	if errors.Is(err, database.ErrPendingSessionExists) {
		// Lost a race with another process for the same user; use theirs.
		existing, lerr := m.sessions.ActiveSession(wctx, userID)
		if lerr == nil && existing != nil {
			return existing, nil
		}
		err = errors.Join(err, lerr)
	}
	if err != nil {
		m.persistFailed("create_session", err)
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.logger.Info("verification session started",
		slog.String("session_id", s.ID), slog.String("user_id", userID))
	return s, nil
}

// Update merges u into the active session locally and in the store.
func (m *Manager) Update(ctx context.Context, u database.SessionUpdate) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	u.Apply(m.current)
	id := m.current.ID
	m.mu.Unlock()

	err := m.persist(ctx, "update_session", id, func(wctx context.Context) error {
		return m.sessions.UpdateSession(wctx, id, u)
	})
	if errors.Is(err, database.ErrSessionNotPending) {
		return ErrNoActiveSession
	}
	return nil
}

// RecordDetection appends a detection record. Attempts and the last verification time
// change only when a comparison was attempted (FaceMatch set).
func (m *Manager) RecordDetection(ctx context.Context, d Detection) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	rec := &database.DetectionRecord{
		SessionID:       m.current.ID,
		UserID:          m.current.UserID,
		DetectedAt:      d.At,
		FaceDetected:    d.FaceDetected,
		ConfidenceScore: d.Confidence,
		FaceMatch:       d.FaceMatch,
		Coordinates:     d.Coordinates,
	}
	var update *database.SessionUpdate
	if d.FaceMatch != nil {
		attempts := m.current.Attempts + 1
		at := d.At
		update = &database.SessionUpdate{Attempts: &attempts, LastVerificationAt: &at}
		update.Apply(m.current)
	}
	id := m.current.ID
	m.mu.Unlock()

	err := m.persist(ctx, "insert_detection", id, func(wctx context.Context) error {
		return m.detections.InsertDetection(wctx, rec)
	})
	if errors.Is(err, database.ErrSessionNotPending) {
		return ErrNoActiveSession
	}
	if update != nil {
		_ = m.persist(ctx, "update_session", id, func(wctx context.Context) error {
			return m.sessions.UpdateSession(wctx, id, *update)
		})
	}
	return nil
}

// End stamps the end time and terminal status, then clears the local session.
// Without an active session it does nothing.
func (m *Manager) End(ctx context.Context, status database.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	m.mu.Lock()
	cur := m.current
	m.current = nil
	m.mu.Unlock()
	if cur == nil {
		return nil
	}

	ended := time.Now()
	err := m.persist(ctx, "end_session", cur.ID, func(wctx context.Context) error {
		return m.sessions.UpdateSession(wctx, cur.ID, database.SessionUpdate{Status: &status, EndedAt: &ended})
	})
	if errors.Is(err, database.ErrSessionNotPending) {
		return nil
	}
	m.logger.Info("verification session ended",
		slog.String("session_id", cur.ID),
		slog.String("status", string(status)),
		slog.Int("attempts", cur.Attempts),
	)
	return nil
}

// Cleanup forgets the local session without touching the store.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *database.VerificationSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// Active reports whether a session is active.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// writeContext detaches store writes from the caller's cancellation and bounds them.
func (m *Manager) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.opts.PersistTimeout)
}

// persist runs one store write for session id. A session the store reports as no
// longer pending was ended elsewhere (for example by sessions expire) and is dropped
// locally, so later writes return ErrNoActiveSession.
func (m *Manager) persist(ctx context.Context, op, id string, write func(context.Context) error) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	wctx, cancel := m.writeContext(ctx)
	defer cancel()
	err := write(wctx)
	switch {
	case err == nil:
	case errors.Is(err, database.ErrSessionNotPending):
		m.mu.Lock()
		if m.current != nil && m.current.ID == id {
			m.current = nil
		}
		m.mu.Unlock()
		m.logger.Warn("verification session is no longer pending in the store",
			slog.String("session_id", id), slog.String("op", op))
	default:
		m.persistFailed(op, err)
	}
	return err
}

func (m *Manager) persistFailed(op string, err error) {
	m.metrics.RecordPersistenceFailure(op)
	m.logger.Error("session store write failed", slog.String("op", op), slog.Any("error", err))
}
