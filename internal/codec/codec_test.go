package codec

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestRoundTripSolidRed(t *testing.T) {
	c := New(DefaultQuality)

	payload, err := c.Encode(solid(64, 64, color.RGBA{R: 255, A: 255}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frame, err := c.Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if frame.Bounds().Dx() != 64 || frame.Bounds().Dy() != 64 {
		t.Fatalf("expected 64x64, got %v", frame.Bounds())
	}

	var r, g, b, n int
	for i := 0; i < len(frame.Pix); i += 4 {
		r += int(frame.Pix[i])
		g += int(frame.Pix[i+1])
		b += int(frame.Pix[i+2])
		n++
	}
	r, g, b = r/n, g/n, b/n
	if r < 240 || g > 15 || b > 15 {
		t.Errorf("mean colour (%d,%d,%d) not within tolerance of pure red", r, g, b)
	}
}

func TestRoundTripColorBlocks(t *testing.T) {
	blocks := []struct {
		rect image.Rectangle
		c    color.RGBA
	}{
		{image.Rect(0, 0, 32, 32), color.RGBA{R: 255, A: 255}},
		{image.Rect(32, 0, 64, 32), color.RGBA{G: 255, A: 255}},
		{image.Rect(0, 32, 32, 64), color.RGBA{B: 255, A: 255}},
		{image.Rect(32, 32, 64, 64), color.RGBA{R: 255, G: 255, B: 255, A: 255}},
	}

	src := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for _, blk := range blocks {
		draw.Draw(src, blk.rect, &image.Uniform{blk.c}, image.Point{}, draw.Src)
	}

	c := New(90)
	payload, err := c.Encode(src)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	frame, err := c.Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	const tolerance = 24
	for _, blk := range blocks {
		center := image.Pt((blk.rect.Min.X+blk.rect.Max.X)/2, (blk.rect.Min.Y+blk.rect.Max.Y)/2)
		got := frame.RGBAAt(center.X, center.Y)
		if absDiff(got.R, blk.c.R) > tolerance ||
			absDiff(got.G, blk.c.G) > tolerance ||
			absDiff(got.B, blk.c.B) > tolerance {
			t.Errorf("block %v: got %v, want about %v", blk.rect, got, blk.c)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	c := New(DefaultQuality)
	img := solid(40, 30, color.RGBA{R: 10, G: 120, B: 200, A: 255})

	a, err := c.Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b, err := c.Encode(img)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(a) != string(b) {
		t.Error("encoding the same frame twice produced different payloads")
	}
}

func TestEncodeZeroDimension(t *testing.T) {
	c := New(DefaultQuality)

	tests := []struct {
		name string
		img  image.Image
	}{
		{"zero width", image.NewRGBA(image.Rect(0, 0, 0, 10))},
		{"zero height", image.NewRGBA(image.Rect(0, 0, 10, 0))},
		{"nil", nil},
	}

	for _, tt := range tests {
		_, err := c.Encode(tt.img)
		var cerr *Error
		if !errors.As(err, &cerr) {
			t.Errorf("%s: expected *codec.Error, got %v", tt.name, err)
			continue
		}
		if !errors.Is(err, ErrEmptyFrame) {
			t.Errorf("%s: expected ErrEmptyFrame, got %v", tt.name, err)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	c := New(DefaultQuality)
	good, err := c.Encode(solid(16, 16, color.RGBA{G: 255, A: 255}))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not a jpeg")},
		{"wrong magic", append([]byte{0x89, 'P', 'N', 'G'}, good[4:]...)},
		{"truncated", good[:len(good)/2]},
	}

	for _, tt := range tests {
		_, err := c.Decode(tt.payload)
		var cerr *Error
		if !errors.As(err, &cerr) {
			t.Errorf("%s: expected *codec.Error, got %v", tt.name, err)
			continue
		}
		if cerr.Op != "decode" {
			t.Errorf("%s: expected op decode, got %s", tt.name, cerr.Op)
		}
	}
}

func TestNewClampsQuality(t *testing.T) {
	if q := New(0).Quality(); q != DefaultQuality {
		t.Errorf("New(0).Quality() = %d, want %d", q, DefaultQuality)
	}
	if q := New(101).Quality(); q != DefaultQuality {
		t.Errorf("New(101).Quality() = %d, want %d", q, DefaultQuality)
	}
	if q := New(55).Quality(); q != 55 {
		t.Errorf("New(55).Quality() = %d, want 55", q)
	}
}

func TestToRGBANormalisesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 20, 15))
	dst := ToRGBA(src)
	if dst.Bounds() != image.Rect(0, 0, 10, 5) {
		t.Errorf("expected origin-anchored bounds, got %v", dst.Bounds())
	}
}
