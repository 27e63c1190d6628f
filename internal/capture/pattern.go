package capture

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PatternConfig configures the synthetic test-pattern device.
type PatternConfig struct {
	Width  int
	Height int
	FPS    int // 0 disables pacing
	Limit  int // frames before ErrExhausted; 0 means unlimited
}

var barColors = []color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{16, 16, 16, 255},
}

// Pattern is a Device that renders SMPTE-style colour bars with a moving
// block and the capture timestamp. It needs no hardware.
type Pattern struct {
	cfg    PatternConfig
	ticker *time.Ticker
	count  int
	closed bool
	now    func() time.Time
}

// NewPattern creates a pattern device
func NewPattern(cfg PatternConfig) (*Pattern, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DeviceError{Op: "open", Device: "pattern", Err: errors.New("invalid frame size")}
	}
	p := &Pattern{cfg: cfg, now: time.Now}
	if cfg.FPS > 0 {
		p.ticker = time.NewTicker(time.Second / time.Duration(cfg.FPS))
	}
	return p, nil
}

// PatternOpener returns an Opener for pattern devices with cfg.
func PatternOpener(cfg PatternConfig) Opener {
	return func() (Device, error) {
		return NewPattern(cfg)
	}
}

// Name returns the device name
func (p *Pattern) Name() string {
	return "pattern"
}

// Read renders the next frame, waiting for the next tick when paced.
func (p *Pattern) Read() (*image.RGBA, error) {
	if p.closed {
		return nil, &DeviceError{Op: "read", Device: p.Name(), Err: errors.New("device closed")}
	}
	if p.cfg.Limit > 0 && p.count >= p.cfg.Limit {
		return nil, &DeviceError{Op: "read", Device: p.Name(), Err: ErrExhausted}
	}
	if p.ticker != nil {
		<-p.ticker.C
	}

	frame := p.render(p.count, p.now())
	p.count++
	return frame, nil
}

func (p *Pattern) render(n int, ts time.Time) *image.RGBA {
	w, h := p.cfg.Width, p.cfg.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	barWidth := (w + len(barColors) - 1) / len(barColors)
	for i, c := range barColors {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, h)
		draw.Draw(img, r, &image.Uniform{c}, image.Point{}, draw.Src)
	}

	size := h / 6
	if size < 4 {
		size = 4
	}
	span := w - size
	if span < 1 {
		span = 1
	}
	x := (n * 4) % span
	block := image.Rect(x, h/2-size/2, x+size, h/2+size/2)
	draw.Draw(img, block, &image.Uniform{color.RGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)

	// Timestamp band along the top edge.
	band := image.Rect(0, 0, w, 17)
	draw.Draw(img, band, &image.Uniform{color.RGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(3, 13),
	}
	d.DrawString(ts.Format("15:04:05.000"))

	return img
}

// Close stops pacing and marks the device released.
func (p *Pattern) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.ticker != nil {
		p.ticker.Stop()
	}
	return nil
}
