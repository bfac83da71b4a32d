package camera

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kozaktomas/face-guard/internal/identity"
	"github.com/kozaktomas/face-guard/internal/logger"
	"github.com/kozaktomas/face-guard/internal/metrics"
)

// Sink is a consumer the shared stream can be bound to, such as a viewer.
type Sink interface {
	Bind(s *Stream) error
	Play() error
}

// Manager is the sole owner of the capture hardware.
type Manager struct {
	device      Device
	constraints Constraints
	logger      *slog.Logger
	metrics     metrics.Recorder

	mu        sync.Mutex
	stream    *Stream
	starting  chan struct{} // non-nil while a hardware request is in flight
	gen       uint64        // bumped by Stop; a start that began in an older generation is discarded
	lastErr   error
	requested int
}

// NewManager creates a manager for the given device.
func NewManager(device Device, c Constraints, l *slog.Logger, rec metrics.Recorder) *Manager {
	return &Manager{
		device:      device,
		constraints: c,
		logger:      logger.OrDefault(l),
		metrics:     metrics.OrNop(rec),
	}
}

// Start acquires the camera. An active stream is reused, and a start already in
// flight reports success without a second hardware request.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stream != nil {
		if m.stream.Active() {
			m.mu.Unlock()
			return nil
		}
		// The device went away underneath us; release what is left before reacquiring.
		m.stream.stop()
		m.stream = nil
	}
	if m.starting != nil {
		m.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	m.starting = done
	m.requested++
	gen := m.gen
	m.mu.Unlock()

	src, err := m.device.Open(ctx, m.constraints)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(done)
	m.starting = nil

	if err != nil {
		cerr := classify(err)
		m.lastErr = cerr
		m.metrics.RecordCameraAcquisition("failure")
		m.logger.Warn("camera acquisition failed", slog.String("kind", cerr.Kind.String()), slog.Any("error", err))
		return cerr
	}

	stream := newStream(src, m.constraints)
	if !stream.Active() {
		stream.stop()
		cerr := &Error{Kind: StreamInactive}
		m.lastErr = cerr
		m.metrics.RecordCameraAcquisition("inactive")
		m.logger.Warn("camera stream inactive after acquisition")
		return cerr
	}

	if gen != m.gen {
		stream.stop()
		m.logger.Info("camera released, stop requested while starting")
		return nil
	}

	m.stream = stream
	m.lastErr = nil
	m.metrics.RecordCameraAcquisition("success")
	m.logger.Info("camera started",
		slog.String("stream_id", stream.ID()),
		slog.Int("tracks", stream.TrackCount()),
		slog.Int("width", m.constraints.Width),
		slog.Int("height", m.constraints.Height),
	)
	return nil
}

// Stop releases every track of the active stream. No-op when inactive.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.gen++
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream == nil {
		return
	}
	stream.stop()
	m.logger.Info("camera stopped", slog.String("stream_id", stream.ID()))
}

// Attach binds the shared stream to sink and starts playback, starting the camera first
// if needed. All sinks share one stream.
func (m *Manager) Attach(ctx context.Context, sink Sink) bool {
	if err := m.Start(ctx); err != nil {
		return false
	}

	stream, err := m.waitStream(ctx)
	if err != nil || stream == nil {
		return false
	}

	if err := sink.Bind(stream); err != nil {
		m.logger.Warn("binding camera stream failed", slog.Any("error", err))
		return false
	}
	if err := sink.Play(); err != nil {
		m.logger.Warn("camera playback failed", slog.Any("error", err))
		return false
	}
	return true
}

// waitStream returns the active stream, waiting for a start that is still in flight.
func (m *Manager) waitStream(ctx context.Context) (*Stream, error) {
	for {
		m.mu.Lock()
		stream, starting := m.stream, m.starting
		m.mu.Unlock()

		if starting == nil {
			return stream, nil
		}
		select {
		case <-starting:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Active reports whether a live stream is held.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil && m.stream.Active()
}

// Stream returns the current stream for read access, nil when inactive.
func (m *Manager) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Err returns the last acquisition error, nil after a successful start.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Requests returns how many hardware acquisition requests were issued.
func (m *Manager) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requested
}

// Follow starts the camera when a user logs in and stops it on logout,
// until ctx is cancelled or the event channel is closed.
func (m *Manager) Follow(ctx context.Context, events <-chan identity.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case identity.Login:
				if err := m.Start(ctx); err != nil {
					m.logger.Warn("camera auto-start failed", slog.String("user_id", ev.UserID), slog.Any("error", err))
				}
			case identity.Logout:
				m.Stop()
			}
		}
	}
}
