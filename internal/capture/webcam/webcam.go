// Package webcam exposes an OpenCV video capture as a capture.Device.
package webcam

import (
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/FaceRelay/internal/capture"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"gocv.io/x/gocv"
)

// emptyReadLimit is how many consecutive empty reads are tolerated before
// the camera is considered gone.
const emptyReadLimit = 30

// Webcam reads frames from a local camera
type Webcam struct {
	index  int
	vc     *gocv.VideoCapture
	bgr    gocv.Mat
	rgba   gocv.Mat
	closed bool
}

// Open acquires camera index and requests width x height frames.
func Open(index, width, height int) (*Webcam, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, &capture.DeviceError{Op: "open", Device: name(index), Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &capture.DeviceError{Op: "open", Device: name(index), Err: errors.New("camera not available")}
	}

	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	logger.WithComponent("webcam").Info().
		Int("index", index).
		Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)).
		Msg("Camera opened")

	return &Webcam{
		index: index,
		vc:    vc,
		bgr:   gocv.NewMat(),
		rgba:  gocv.NewMat(),
	}, nil
}

// Opener returns a capture.Opener for camera index.
func Opener(index, width, height int) capture.Opener {
	return func() (capture.Device, error) {
		return Open(index, width, height)
	}
}

func name(index int) string {
	return fmt.Sprintf("webcam%d", index)
}

// Name returns the device name
func (w *Webcam) Name() string {
	return name(w.index)
}

// Read grabs the next frame and converts it from BGR to RGBA.
func (w *Webcam) Read() (*image.RGBA, error) {
	if w.closed {
		return nil, &capture.DeviceError{Op: "read", Device: w.Name(), Err: errors.New("device closed")}
	}

	for empty := 0; ; empty++ {
		if empty >= emptyReadLimit {
			return nil, &capture.DeviceError{Op: "read", Device: w.Name(), Err: capture.ErrExhausted}
		}
		if ok := w.vc.Read(&w.bgr); ok && !w.bgr.Empty() {
			break
		}
	}

	if err := gocv.CvtColor(w.bgr, &w.rgba, gocv.ColorBGRToRGBA); err != nil {
		return nil, &capture.DeviceError{Op: "read", Device: w.Name(), Err: err}
	}

	img := image.NewRGBA(image.Rect(0, 0, w.rgba.Cols(), w.rgba.Rows()))
	copy(img.Pix, w.rgba.ToBytes())
	return img, nil
}

// Close releases the camera
func (w *Webcam) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.bgr.Close()
	w.rgba.Close()
	return w.vc.Close()
}
