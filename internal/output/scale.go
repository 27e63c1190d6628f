package output

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Letterbox scales src to fit a width x height canvas without changing its
// aspect ratio. The unused area is black.
func Letterbox(src *image.RGBA, width, height int) *image.RGBA {
	bounds := src.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	if srcWidth == 0 || srcHeight == 0 {
		return dst
	}

	// Calculate scaling to fit display while maintaining aspect ratio
	scaleX := float64(width) / float64(srcWidth)
	scaleY := float64(height) / float64(srcHeight)
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}

	dstWidth := int(float64(srcWidth) * scale)
	dstHeight := int(float64(srcHeight) * scale)

	// Center the image
	offsetX := (width - dstWidth) / 2
	offsetY := (height - dstHeight) / 2
	dstRect := image.Rect(offsetX, offsetY, offsetX+dstWidth, offsetY+dstHeight)

	draw.ApproxBiLinear.Scale(dst, dstRect, src, bounds, draw.Src, nil)
	return dst
}
