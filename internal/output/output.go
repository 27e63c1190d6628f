package output

import (
	"errors"
	"image"
	"strings"
)

// Output defines the interface for frame output mechanisms.
// This allows us to swap between different output methods:
// - MJPEG HTTP stream
// - Desktop window
// - Several at once via Multi
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	// The caller hands the frame over and does not touch it afterwards.
	// Decorators may draw on it before passing it on; outputs that share a
	// frame (see Multi) must only read it
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int
	Height int
	FPS    int
}

// Multi fans frames out to several outputs
type Multi struct {
	outputs []Output
}

// NewMulti combines outputs into one
func NewMulti(outputs ...Output) *Multi {
	return &Multi{outputs: outputs}
}

// Start starts every output, stopping the ones already started if one fails
func (m *Multi) Start() error {
	for i, o := range m.outputs {
		if err := o.Start(); err != nil {
			for _, started := range m.outputs[:i] {
				started.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop stops every output
func (m *Multi) Stop() error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteFrame hands frame to every running output. Outputs only read the
// frame, so they share it.
func (m *Multi) WriteFrame(frame *image.RGBA) error {
	var errs []error
	for _, o := range m.outputs {
		if !o.IsRunning() {
			continue
		}
		if err := o.WriteFrame(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns the names of the combined outputs
func (m *Multi) Name() string {
	names := make([]string, len(m.outputs))
	for i, o := range m.outputs {
		names[i] = o.Name()
	}
	return strings.Join(names, " + ")
}

// IsRunning returns true if any output is running
func (m *Multi) IsRunning() bool {
	for _, o := range m.outputs {
		if o.IsRunning() {
			return true
		}
	}
	return false
}
