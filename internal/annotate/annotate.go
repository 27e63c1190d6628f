// Package annotate locates regions of interest in decoded frames, labels
// them and draws the result onto the frame.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Detector returns candidate regions in an intensity image, in a stable order.
type Detector interface {
	Detect(gray *image.Gray) ([]image.Rectangle, error)
}

// Classifier labels a region. Classify must return one of Labels().
type Classifier interface {
	Classify(region image.Image) string
	Labels() []string
}

// Box is a detection in frame coordinates
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box back to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func boxOf(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Result is one labelled detection. It outlives the frame it came from.
type Result struct {
	Box       Box       `json:"box"`
	Label     string    `json:"label"`
	Session   string    `json:"session,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Drawing style for boxes and labels.
var (
	BoxColor  = color.RGBA{0, 255, 0, 255}
	BoxWidth  = 2
	labelFace = basicfont.Face7x13
)

// Stage runs detection and classification over frames and records the
// results in a Store.
type Stage struct {
	detector   Detector
	classifier Classifier
	store      *Store
	now        func() time.Time
}

// NewStage creates an annotation stage
func NewStage(detector Detector, classifier Classifier, store *Store) *Stage {
	return &Stage{
		detector:   detector,
		classifier: classifier,
		store:      store,
		now:        time.Now,
	}
}

// Store returns the store results are appended to.
func (s *Stage) Store() *Store {
	return s.store
}

// Annotate detects and labels regions of frame, draws them onto frame and
// appends one Result per region to the store, in detector order. frame is
// modified in place.
func (s *Stage) Annotate(sessionID string, frame *image.RGBA) ([]Result, error) {
	gray := Luminance(frame)

	regions, err := s.detector.Detect(gray)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(regions) == 0 {
		return nil, nil
	}

	bounds := frame.Bounds()
	ts := s.now()
	results := make([]Result, 0, len(regions))

	// Classify against the undrawn frame so earlier boxes don't bleed into
	// later regions.
	for _, r := range regions {
		r = r.Add(bounds.Min).Intersect(bounds)
		if r.Empty() {
			continue
		}
		label := s.classifier.Classify(frame.SubImage(r))
		results = append(results, Result{
			Box:       boxOf(r.Sub(bounds.Min)),
			Label:     label,
			Session:   sessionID,
			Timestamp: ts,
		})
	}

	for _, res := range results {
		r := res.Box.Rect().Add(bounds.Min)
		drawBox(frame, r)
		drawLabel(frame, r, res.Label)
	}

	s.store.Append(results...)

	logger.WithComponent("annotate").Debug().
		Int("regions", len(results)).
		Msg("Annotated frame")

	return results, nil
}

// Luminance converts img to 8-bit intensity with the BT.601 integer weights
// (77R + 150G + 29B) >> 8.
func Luminance(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()]
		for x := range dst {
			r := uint32(src[x*4])
			g := uint32(src[x*4+1])
			bl := uint32(src[x*4+2])
			dst[x] = uint8((77*r + 150*g + 29*bl) >> 8)
		}
	}
	return gray
}

func drawBox(img *image.RGBA, r image.Rectangle) {
	c := &image.Uniform{BoxColor}
	w := BoxWidth
	if r.Dx() < 2*w || r.Dy() < 2*w {
		draw.Draw(img, r, c, image.Point{}, draw.Src)
		return
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y),
		image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e, c, image.Point{}, draw.Src)
	}
}

// drawLabel writes text just above r, or inside its top edge when r touches
// the top of the frame.
func drawLabel(img *image.RGBA, r image.Rectangle, text string) {
	if text == "" {
		return
	}
	metrics := labelFace.Metrics()
	baseline := r.Min.Y - 4 - metrics.Descent.Ceil()
	if baseline-metrics.Ascent.Ceil() < img.Bounds().Min.Y {
		baseline = r.Min.Y + BoxWidth + metrics.Ascent.Ceil()
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{BoxColor},
		Face: labelFace,
		Dot:  fixed.P(r.Min.X, baseline),
	}
	d.DrawString(text)
}
