package annotate

import (
	"image"
	"image/color"
)

// Labels produced by BrightnessClassifier.
const (
	LabelHappy   = "happy"
	LabelNeutral = "neutral"
	LabelSad     = "sad"
)

// BrightnessClassifier is a placeholder emotion classifier that maps the
// mean intensity of a region onto a label. It has no accuracy goal.
type BrightnessClassifier struct {
	HappyAbove uint8
	SadBelow   uint8
}

// NewBrightnessClassifier returns a classifier with demo thresholds.
func NewBrightnessClassifier() *BrightnessClassifier {
	return &BrightnessClassifier{HappyAbove: 150, SadBelow: 80}
}

// Labels returns the fixed label set
func (c *BrightnessClassifier) Labels() []string {
	return []string{LabelHappy, LabelNeutral, LabelSad}
}

// Classify labels region by its mean intensity.
func (c *BrightnessClassifier) Classify(region image.Image) string {
	mean := meanIntensity(region)
	switch {
	case mean > int(c.HappyAbove):
		return LabelHappy
	case mean < int(c.SadBelow):
		return LabelSad
	default:
		return LabelNeutral
	}
}

func meanIntensity(img image.Image) int {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum int
	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := rgba.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx(); x++ {
				p := rgba.Pix[i+x*4 : i+x*4+3 : i+x*4+3]
				sum += (77*int(p[0]) + 150*int(p[1]) + 29*int(p[2])) >> 8
			}
		}
		return sum / n
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += int(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return sum / n
}

// NopDetector never finds anything. Used when no face model is configured.
type NopDetector struct{}

// Detect returns no regions
func (NopDetector) Detect(*image.Gray) ([]image.Rectangle, error) {
	return nil, nil
}
