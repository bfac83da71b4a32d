package monitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // frames arrive as JPEG
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/kozaktomas/face-guard/internal/constants"
	"github.com/kozaktomas/face-guard/internal/facerec"
	"github.com/kozaktomas/face-guard/internal/geometry"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	labelWidth  = 140
	labelHeight = 30
)

var (
	boxColor   = color.RGBA{R: 0x10, G: 0xb9, B: 0x81, A: 0xff} // #10b981
	labelColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// Overlay is the transparent drawing surface placed over the video. Its size is the
// configured surface size, or the native frame size when none is configured.
type Overlay struct {
	mu    sync.Mutex
	fixed geometry.Size
	img   *image.RGBA
	face  bool
}

// NewOverlay creates an overlay. A zero size follows the resolution of the frames.
func NewOverlay(size geometry.Size) *Overlay {
	return &Overlay{fixed: size}
}

// surfaceSize resolves the native resolution of the surface for a frame. Callers hold o.mu.
func (o *Overlay) surfaceSize(frame geometry.Size) geometry.Size {
	switch {
	case o.fixed.Valid():
		return o.fixed
	case frame.Valid():
		return frame
	case o.img != nil:
		return o.size()
	default:
		return geometry.Size{Width: constants.DefaultCameraWidth, Height: constants.DefaultCameraHeight}
	}
}

// reset sizes the surface for the frame and clears it. Callers hold o.mu.
func (o *Overlay) reset(frame geometry.Size) {
	s := o.surfaceSize(frame)
	if o.img == nil || o.img.Rect.Dx() != s.Width || o.img.Rect.Dy() != s.Height {
		o.img = image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	} else {
		draw.Draw(o.img, o.img.Rect, image.Transparent, image.Point{}, draw.Src)
	}
	o.face = false
}

// Clear empties the surface.
func (o *Overlay) Clear(frame geometry.Size) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset(frame)
}

// Render clears the surface and draws the face box, landmarks and label. Coordinates
// are scaled from the resolution the face was detected at to the surface resolution.
func (o *Overlay) Render(face *facerec.Face) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if face == nil {
		o.reset(geometry.Size{})
		return
	}
	o.reset(face.Source)
	surface := o.size()

	box := geometry.ScaleBox(face.Box, face.Source, surface)
	strokeRect(o.img, box, constants.OverlayLineWidth, boxColor)
	for _, p := range geometry.ScalePoints(face.Landmarks, face.Source, surface) {
		dot(o.img, p, constants.OverlayLandmarkRadius, boxColor)
	}

	x := int(math.Round(box.X1))
	labelY := max(0, int(math.Round(box.Y1))-labelHeight)
	label := image.Rect(x, labelY, x+labelWidth, labelY+labelHeight)
	draw.Draw(o.img, label.Intersect(o.img.Rect), image.NewUniform(boxColor), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  o.img,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x+5, labelY+20),
	}
	d.DrawString(fmt.Sprintf("%s %d%%", constants.OverlayLabel, int(math.Round(face.Confidence*100))))
	o.face = true
}

func (o *Overlay) size() geometry.Size {
	if o.img == nil {
		return geometry.Size{}
	}
	return geometry.Size{Width: o.img.Rect.Dx(), Height: o.img.Rect.Dy()}
}

// Size returns the current surface resolution, zero before the first render.
func (o *Overlay) Size() geometry.Size {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size()
}

// HasFace reports whether the surface currently shows a face.
func (o *Overlay) HasFace() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.face
}

// Image returns a copy of the surface.
func (o *Overlay) Image() *image.RGBA {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.img == nil {
		o.reset(geometry.Size{})
	}
	cp := image.NewRGBA(o.img.Rect)
	copy(cp.Pix, o.img.Pix)
	return cp
}

// WritePNG encodes the surface as PNG.
func (o *Overlay) WritePNG(w io.Writer) error {
	return png.Encode(w, o.Image())
}

// Composite draws the overlay over a JPEG frame scaled to the surface resolution.
func (o *Overlay) Composite(frame []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	ov := o.Image()
	dst := image.NewRGBA(ov.Rect)
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	draw.Draw(dst, dst.Rect, ov, image.Point{}, draw.Over)
	return dst, nil
}

func strokeRect(img *image.RGBA, b geometry.Box, width int, c color.Color) {
	x1, y1 := int(math.Round(b.X1)), int(math.Round(b.Y1))
	x2, y2 := int(math.Round(b.X2)), int(math.Round(b.Y2))
	half := width / 2
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(x1-half, y1-half, x2+half+1, y1-half+width), // top
		image.Rect(x1-half, y2-half, x2+half+1, y2-half+width), // bottom
		image.Rect(x1-half, y1-half, x1-half+width, y2+half+1), // left
		image.Rect(x2-half, y1-half, x2-half+width, y2+half+1), // right
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Rect), u, image.Point{}, draw.Src)
	}
}

func dot(img *image.RGBA, p geometry.Point, r int, c color.Color) {
	x, y := int(math.Round(p.X)), int(math.Round(p.Y))
	rect := image.Rect(x-r, y-r, x+r+1, y+r+1)
	draw.Draw(img, rect.Intersect(img.Rect), image.NewUniform(c), image.Point{}, draw.Src)
}
