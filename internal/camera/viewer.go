package camera

import (
	"errors"
	"sync"

	"github.com/kozaktomas/face-guard/internal/geometry"
)

// Viewer is a frame sink. Like a video element it only serves frames once the
// bound stream is playing and has buffered data.
type Viewer struct {
	mu      sync.RWMutex
	stream  *Stream
	playing bool
}

func NewViewer() *Viewer {
	return &Viewer{}
}

// Bind attaches the viewer to a stream. Playback restarts with Play.
func (v *Viewer) Bind(s *Stream) error {
	if s == nil {
		return errors.New("bind nil stream")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stream = s
	v.playing = false
	return nil
}

// Play begins playback of the bound stream.
func (v *Viewer) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		return ErrNoStream
	}
	if !v.stream.Active() {
		return &Error{Kind: StreamInactive}
	}
	v.playing = true
	return nil
}

// Detach unbinds the stream.
func (v *Viewer) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stream = nil
	v.playing = false
}

// Ready reports whether a frame can be read right now.
func (v *Viewer) Ready() bool {
	_, err := v.Frame()
	return err == nil
}

// Frame returns the latest buffered frame or ErrFrameNotReady.
func (v *Viewer) Frame() (Frame, error) {
	v.mu.RLock()
	stream, playing := v.stream, v.playing
	v.mu.RUnlock()

	if stream == nil || !playing || !stream.Active() {
		return Frame{}, ErrFrameNotReady
	}
	f, ok := stream.LatestFrame()
	if !ok || len(f.Data) == 0 {
		return Frame{}, ErrFrameNotReady
	}
	return f, nil
}

// Resolution returns the native resolution of the latest frame, or the requested
// constraints when no frame has arrived yet.
func (v *Viewer) Resolution() geometry.Size {
	v.mu.RLock()
	stream := v.stream
	v.mu.RUnlock()
	if stream == nil {
		return geometry.Size{}
	}
	if f, ok := stream.LatestFrame(); ok && f.Size.Valid() {
		return f.Size
	}
	c := stream.Constraints()
	return geometry.Size{Width: c.Width, Height: c.Height}
}
