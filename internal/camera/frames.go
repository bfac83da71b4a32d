package camera

import (
	"bytes"
	"image"
	_ "image/jpeg" // register JPEG for DecodeConfig
	"sync"
	"time"

	"github.com/kozaktomas/face-guard/internal/geometry"
)

var (
	jpegSOI = []byte{0xFF, 0xD8} // Start of Image
	jpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJPEG is a bufio.SplitFunc that yields complete JPEG images from an MJPEG byte stream.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// frameSlot is a latest-frame mailbox: a new frame overwrites the previous one,
// readers always see the freshest image and never block the producer.
type frameSlot struct {
	mu      sync.Mutex
	frame   Frame
	seq     uint64
	read    uint64
	dropped uint64
}

// put stores a copy of data as the newest frame and returns its sequence number.
func (s *frameSlot) put(data []byte, at time.Time) uint64 {
	buf := make([]byte, len(data))
	copy(buf, data)

	var size geometry.Size
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(buf)); err == nil {
		size = geometry.Size{Width: cfg.Width, Height: cfg.Height}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq > 0 && s.read < s.seq {
		s.dropped++
	}
	s.seq++
	s.frame = Frame{Data: buf, Size: size, Seq: s.seq, CapturedAt: at}
	return s.seq
}

func (s *frameSlot) latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		return Frame{}, false
	}
	s.read = s.seq
	return s.frame, true
}

// stats returns how many frames were produced and how many were overwritten unread.
func (s *frameSlot) stats() (produced, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.dropped
}
