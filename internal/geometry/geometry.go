// Package geometry holds the coordinate types shared by detection, overlay and persistence.
package geometry

// Size is a resolution in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Point is a 2D coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned bounding box in corner format [x1, y1, x2, y2].
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BoxFromSlice converts a [x1, y1, x2, y2] slice as returned by the recognizer.
func BoxFromSlice(bbox []float64) (Box, bool) {
	if len(bbox) != 4 {
		return Box{}, false
	}
	b := Box{X1: bbox[0], Y1: bbox[1], X2: bbox[2], Y2: bbox[3]}
	return b, b.Valid()
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Valid reports whether the box has a positive area.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// ScaleBox maps a box from the resolution it was detected at to another resolution.
// Scaling uses native pixel sizes on both sides, never a displayed size.
func ScaleBox(b Box, from, to Size) Box {
	if !from.Valid() || !to.Valid() {
		return b
	}
	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)
	return Box{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// ScalePoints maps landmark points between resolutions, see ScaleBox.
func ScalePoints(points []Point, from, to Size) []Point {
	if !from.Valid() || !to.Valid() {
		return points
	}
	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{X: p.X * sx, Y: p.Y * sy}
	}
	return out
}

// ToRelative converts a pixel box to relative (0-1) coordinates.
func ToRelative(b Box, s Size) Box {
	if !s.Valid() {
		return b
	}
	return Box{
		X1: b.X1 / float64(s.Width),
		Y1: b.Y1 / float64(s.Height),
		X2: b.X2 / float64(s.Width),
		Y2: b.Y2 / float64(s.Height),
	}
}

// Clamp restricts the box to the bounds of a surface.
func Clamp(b Box, s Size) Box {
	w, h := float64(s.Width), float64(s.Height)
	return Box{
		X1: min(max(b.X1, 0), w),
		Y1: min(max(b.Y1, 0), h),
		X2: min(max(b.X2, 0), w),
		Y2: min(max(b.Y2, 0), h),
	}
}
