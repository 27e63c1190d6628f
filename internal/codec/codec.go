// Package codec turns frames into compressed JPEG payloads and back.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// ErrEmptyFrame is returned by Encode for frames with no pixels.
var ErrEmptyFrame = errors.New("frame has zero width or height")

// Error is a codec failure. A decode Error only invalidates one payload.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Codec encodes with a fixed quality so that identical frames give identical payloads.
type Codec struct {
	quality int
}

// New returns a codec with the given JPEG quality (1-100). Out of range values
// fall back to DefaultQuality.
func New(quality int) *Codec {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Codec{quality: quality}
}

// Quality reports the configured JPEG quality.
func (c *Codec) Quality() int {
	return c.quality
}

// Encode compresses img into a JPEG payload.
func (c *Codec) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, &Error{Op: "encode", Err: ErrEmptyFrame}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &Error{Op: "encode", Err: ErrEmptyFrame}
	}

	buf := bytes.NewBuffer(make([]byte, 0, b.Dx()*b.Dy()/4))
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// Decode parses a JPEG payload into an opaque RGBA frame anchored at (0,0).
func (c *Codec) Decode(payload []byte) (*image.RGBA, error) {
	if len(payload) == 0 {
		return nil, &Error{Op: "decode", Err: errors.New("empty payload")}
	}

	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &Error{Op: "decode", Err: ErrEmptyFrame}
	}
	return ToRGBA(img), nil
}

// ToRGBA copies img into a new RGBA image whose bounds start at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
