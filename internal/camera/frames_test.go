package camera

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"slices"
	"testing"
	"time"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestSplitJPEG(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	stream := slices.Concat([]byte{0x00, 0x00}, frame1, frame2, []byte{0xFF, 0xD8, 0x04})

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJPEG)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, slices.Clone(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], frame1) {
		t.Errorf("frame 1 = %x, want %x", got[0], frame1)
	}
	if !bytes.Equal(got[1], frame2) {
		t.Errorf("frame 2 = %x, want %x", got[1], frame2)
	}
}

func TestSplitJPEG_NeedsMoreData(t *testing.T) {
	advance, token, err := SplitJPEG([]byte{0xFF, 0xD8, 0x01}, false)
	if advance != 0 || token != nil || err != nil {
		t.Errorf("expected request for more data, got advance=%d token=%x err=%v", advance, token, err)
	}
}

func TestFrameSlot_LatestWins(t *testing.T) {
	var slot frameSlot

	if _, ok := slot.latest(); ok {
		t.Fatal("expected empty slot")
	}

	first := encodeTestJPEG(t, 64, 48)
	second := encodeTestJPEG(t, 32, 24)
	slot.put(first, time.Now())
	slot.put(second, time.Now())

	f, ok := slot.latest()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.Seq != 2 {
		t.Errorf("expected seq 2, got %d", f.Seq)
	}
	if f.Size.Width != 32 || f.Size.Height != 24 {
		t.Errorf("expected 32x24 decoded size, got %dx%d", f.Size.Width, f.Size.Height)
	}

	produced, dropped := slot.stats()
	if produced != 2 || dropped != 1 {
		t.Errorf("expected 2 produced / 1 overwritten, got %d / %d", produced, dropped)
	}
}

func TestFrameSlot_CopiesInput(t *testing.T) {
	var slot frameSlot
	data := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	slot.put(data, time.Now())
	data[2] = 0x00

	f, _ := slot.latest()
	if f.Data[2] != 0xAA {
		t.Error("slot must keep its own copy of the frame bytes")
	}
}
