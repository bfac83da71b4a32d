// Package camera owns the process-wide capture stream. Only Manager starts or
// stops the hardware; every other component receives a read/attach capability.
package camera

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-guard/internal/geometry"
)

// Constraints is the preferred capture configuration requested from a device.
type Constraints struct {
	Width      int
	Height     int
	FacingMode string
	FPS        int
}

// Frame is one captured JPEG image.
type Frame struct {
	Data       []byte
	Size       geometry.Size
	Seq        uint64
	CapturedAt time.Time
}

// Device is the hardware acquisition capability.
type Device interface {
	Open(ctx context.Context, c Constraints) (Source, error)
}

// Source is one active hardware capture as returned by a Device.
type Source interface {
	Active() bool
	Tracks() []Track
	LatestFrame() (Frame, bool)
}

// Track is a single media track of a Source. Stop releases the underlying hardware.
type Track interface {
	ID() string
	Live() bool
	Stop()
}

// Stream is the shared handle to the active capture. It exposes read access only;
// releasing the tracks is reserved to the Manager.
type Stream struct {
	id          string
	source      Source
	constraints Constraints
	startedAt   time.Time
}

func newStream(source Source, c Constraints) *Stream {
	return &Stream{
		id:          uuid.NewString(),
		source:      source,
		constraints: c,
		startedAt:   time.Now(),
	}
}

func (s *Stream) ID() string               { return s.id }
func (s *Stream) StartedAt() time.Time     { return s.startedAt }
func (s *Stream) Constraints() Constraints { return s.constraints }

// Active reports whether the stream still delivers media.
func (s *Stream) Active() bool {
	return s.source.Active()
}

// TrackCount returns the number of tracks in the stream.
func (s *Stream) TrackCount() int {
	return len(s.source.Tracks())
}

// LatestFrame returns the most recent frame, false if nothing was buffered yet.
func (s *Stream) LatestFrame() (Frame, bool) {
	return s.source.LatestFrame()
}

func (s *Stream) stop() {
	for _, t := range s.source.Tracks() {
		t.Stop()
	}
}
