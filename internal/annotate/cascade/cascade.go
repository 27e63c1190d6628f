// Package cascade provides a Haar cascade face detector backed by OpenCV.
package cascade

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"gocv.io/x/gocv"
)

// Detector finds faces with an OpenCV cascade classifier.
type Detector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	minSize    image.Point
}

// Load reads a cascade definition such as haarcascade_frontalface_default.xml.
// Regions smaller than minSize pixels on either side are ignored.
func Load(path string, minSize int) (*Detector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade file: %s", path)
	}

	logger.WithComponent("cascade").Info().
		Str("path", path).
		Int("min_size", minSize).
		Msg("Cascade classifier loaded")

	return &Detector{
		classifier: classifier,
		minSize:    image.Pt(minSize, minSize),
	}, nil
}

// Detect returns face rectangles in gray, in the classifier's order.
func (d *Detector) Detect(gray *image.Gray) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	if err := gocv.EqualizeHist(mat, &mat); err != nil {
		return nil, fmt.Errorf("equalize: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.classifier.DetectMultiScaleWithParams(mat, 1.1, 5, 0, d.minSize, image.Point{}), nil
}

// Close releases the classifier
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
