package facerec

import (
	"time"

	"github.com/kozaktomas/face-guard/internal/geometry"
)

// Descriptor is a fixed-length numeric summary of a face.
type Descriptor []float32

// Face is the best face found in one image.
type Face struct {
	Descriptor Descriptor
	Box        geometry.Box
	Landmarks  []geometry.Point
	Confidence float64
	Source     geometry.Size // resolution the box and landmarks are expressed in
}

// SampleKind tags a detection result.
type SampleKind int

const (
	// NotReady means the frame or the models were not ready. The cycle is skipped.
	NotReady SampleKind = iota
	// NoFace means a frame was evaluated and contained no face.
	NoFace
	// FaceFound means Face is set.
	FaceFound
)

func (k SampleKind) String() string {
	switch k {
	case NotReady:
		return "not_ready"
	case NoFace:
		return "no_face"
	case FaceFound:
		return "face"
	default:
		return "unknown"
	}
}

// Sample is the per-frame detection result. Face is set only for FaceFound.
type Sample struct {
	Kind       SampleKind
	Face       *Face
	FrameSeq   uint64
	CapturedAt time.Time
}

// Evaluated reports whether a frame was actually analysed.
func (s Sample) Evaluated() bool {
	return s.Kind != NotReady
}

// bestFace picks the highest-confidence detection. Ties go to the earliest face
// in the response. Detections without a usable box or descriptor are ignored.
func bestFace(resp *FaceResponse, fallback geometry.Size) *Face {
	if resp == nil {
		return nil
	}
	best := -1
	var box geometry.Box
	for i, f := range resp.Faces {
		b, ok := geometry.BoxFromSlice(f.BBox)
		if !ok || len(f.Embedding) == 0 {
			continue
		}
		if best == -1 || f.DetScore > resp.Faces[best].DetScore {
			best, box = i, b
		}
	}
	if best == -1 {
		return nil
	}

	det := resp.Faces[best]
	src := geometry.Size{Width: resp.Width, Height: resp.Height}
	if !src.Valid() {
		src = fallback
	}
	landmarks := make([]geometry.Point, len(det.Landmarks))
	for i, p := range det.Landmarks {
		landmarks[i] = geometry.Point{X: p[0], Y: p[1]}
	}
	return &Face{
		Descriptor: Descriptor(det.Embedding),
		Box:        box,
		Landmarks:  landmarks,
		Confidence: det.DetScore,
		Source:     src,
	}
}
