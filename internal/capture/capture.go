package capture

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// Device yields raw frames from a camera or display. A Device is owned by a
// single goroutine; implementations need not be safe for concurrent use.
type Device interface {
	// Read blocks until the next frame is available.
	// The returned frame is owned by the caller.
	Read() (*image.RGBA, error)

	// Close releases the device. Safe to call more than once.
	Close() error

	// Name returns a human-readable name for this device
	Name() string
}

// Opener acquires a device. Each call yields a fresh handle.
type Opener func() (Device, error)

// ErrExhausted is returned by a device that has no more frames to produce.
var ErrExhausted = errors.New("device stopped producing frames")

// DeviceError reports a failure to acquire or read a device.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("device %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("device %s %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Paced wraps opener so that every device it opens yields at most fps
// frames per second. fps <= 0 returns opener unchanged.
func Paced(opener Opener, fps int) Opener {
	if fps <= 0 {
		return opener
	}
	interval := time.Second / time.Duration(fps)
	return func() (Device, error) {
		dev, err := opener()
		if err != nil {
			return nil, err
		}
		return &paced{Device: dev, interval: interval}, nil
	}
}

type paced struct {
	Device
	interval time.Duration
	next     time.Time
}

func (p *paced) Read() (*image.RGBA, error) {
	if wait := time.Until(p.next); wait > 0 {
		time.Sleep(wait)
	}
	p.next = time.Now().Add(p.interval)
	return p.Device.Read()
}
