package geometry

import (
	"math"
	"testing"
)

func boxesClose(a, b Box) bool {
	const eps = 0.0001
	return math.Abs(a.X1-b.X1) < eps && math.Abs(a.Y1-b.Y1) < eps &&
		math.Abs(a.X2-b.X2) < eps && math.Abs(a.Y2-b.Y2) < eps
}

func TestBoxFromSlice(t *testing.T) {
	tests := []struct {
		name   string
		bbox   []float64
		wantOK bool
	}{
		{"valid box", []float64{10, 20, 110, 140}, true},
		{"too short", []float64{10, 20, 110}, false},
		{"empty", nil, false},
		{"inverted", []float64{110, 20, 10, 140}, false},
		{"zero area", []float64{10, 20, 10, 140}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := BoxFromSlice(tt.bbox)
			if ok != tt.wantOK {
				t.Errorf("BoxFromSlice(%v) ok = %v, want %v", tt.bbox, ok, tt.wantOK)
			}
		})
	}
}

func TestScaleBox(t *testing.T) {
	tests := []struct {
		name     string
		box      Box
		from, to Size
		expected Box
	}{
		{
			name:     "upscale to double resolution",
			box:      Box{100, 50, 200, 150},
			from:     Size{640, 480},
			to:       Size{1280, 960},
			expected: Box{200, 100, 400, 300},
		},
		{
			name:     "non-uniform scale",
			box:      Box{64, 48, 320, 240},
			from:     Size{640, 480},
			to:       Size{320, 480},
			expected: Box{32, 48, 160, 240},
		},
		{
			name:     "same size is identity",
			box:      Box{1, 2, 3, 4},
			from:     Size{640, 480},
			to:       Size{640, 480},
			expected: Box{1, 2, 3, 4},
		},
		{
			name:     "invalid source size leaves box unchanged",
			box:      Box{1, 2, 3, 4},
			from:     Size{0, 480},
			to:       Size{640, 480},
			expected: Box{1, 2, 3, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaleBox(tt.box, tt.from, tt.to)
			if !boxesClose(got, tt.expected) {
				t.Errorf("ScaleBox() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestScalePoints(t *testing.T) {
	points := []Point{{X: 320, Y: 240}, {X: 0, Y: 480}}

	got := ScalePoints(points, Size{640, 480}, Size{160, 120})

	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if got[0] != (Point{X: 80, Y: 60}) {
		t.Errorf("expected (80,60), got %v", got[0])
	}
	if got[1] != (Point{X: 0, Y: 120}) {
		t.Errorf("expected (0,120), got %v", got[1])
	}
	if points[0].X != 320 {
		t.Error("input points must not be modified")
	}
}

func TestToRelative(t *testing.T) {
	got := ToRelative(Box{64, 48, 320, 240}, Size{640, 480})
	want := Box{0.1, 0.1, 0.5, 0.5}
	if !boxesClose(got, want) {
		t.Errorf("ToRelative() = %v, want %v", got, want)
	}
}

func TestClamp(t *testing.T) {
	got := Clamp(Box{-10, 20, 700, 500}, Size{640, 480})
	want := Box{0, 20, 640, 480}
	if got != want {
		t.Errorf("Clamp() = %v, want %v", got, want)
	}
}
