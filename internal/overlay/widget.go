package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
)

// Widget is something drawn on top of every rendered frame
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto img at its configured position
	Render(img *image.RGBA) error

	// Config returns the widget's configuration as a map
	Config() map[string]any

	// UpdateConfig applies the keys present in config
	UpdateConfig(config map[string]any) error

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// BaseWidget provides position, opacity and the enabled flag
type BaseWidget struct {
	id      string
	enabled atomic.Bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, x: x, y: y}
	w.enabled.Store(true)
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled.Load()
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled.Store(enabled)
}

// SetOpacity sets the widget's opacity, clamped to [0, 1]
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.opacity = min(max(opacity, 0), 1)
}

func (w *BaseWidget) baseConfig() map[string]any {
	return map[string]any{
		"id":      w.id,
		"enabled": w.IsEnabled(),
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
	}
}

func (w *BaseWidget) updateBase(config map[string]any) {
	if v, ok := getInt(config["x"]); ok {
		w.x = v
	}
	if v, ok := getInt(config["y"]); ok {
		w.y = v
	}
	if v, ok := config["opacity"].(float64); ok {
		w.SetOpacity(v)
	}
	if v, ok := config["enabled"].(bool); ok {
		w.SetEnabled(v)
	}
}

// getInt extracts an integer from a decoded JSON number or a Go int
func getInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

// BlendImage draws src onto dst with its top-left corner at (x, y), scaling
// src's alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(dst, r, src, sb.Min, mask, image.Point{}, draw.Over)
}

// DrawPanel fills a rectangle with c at the given opacity
func DrawPanel(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}
