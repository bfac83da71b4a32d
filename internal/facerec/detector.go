package facerec

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-guard/internal/camera"
	"github.com/kozaktomas/face-guard/internal/models"
)

// ModelState exposes the currently loaded model set, nil while loading.
type ModelState interface {
	Current() *models.Set
}

// FrameSource yields the latest frame of a playing sink.
type FrameSource interface {
	Frame() (camera.Frame, error)
}

// Detector runs detection and descriptor extraction against live frames.
type Detector struct {
	recognizer Recognizer
	models     ModelState
}

func NewDetector(r Recognizer, m ModelState) *Detector {
	return &Detector{recognizer: r, models: m}
}

// Detect samples the latest frame of src. Frames that cannot be evaluated yet
// (models loading, nothing buffered) yield a NotReady sample, never NoFace.
func (d *Detector) Detect(ctx context.Context, src FrameSource) (Sample, error) {
	set := d.models.Current()
	if set == nil {
		return Sample{Kind: NotReady}, nil
	}

	frame, err := src.Frame()
	if errors.Is(err, camera.ErrFrameNotReady) {
		return Sample{Kind: NotReady}, nil
	}
	if err != nil {
		return Sample{}, fmt.Errorf("read frame: %w", err)
	}

	resp, err := d.recognizer.DetectFaces(ctx, frame.Data, set)
	if err != nil {
		return Sample{}, fmt.Errorf("detect faces: %w", err)
	}

	sample := Sample{Kind: NoFace, FrameSeq: frame.Seq, CapturedAt: frame.CapturedAt}
	if face := bestFace(resp, frame.Size); face != nil {
		sample.Kind = FaceFound
		sample.Face = face
	}
	return sample, nil
}
