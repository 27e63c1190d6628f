package overlay

import (
	"image"
	"image/color"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const lineHeight = 13 // basicfont.Face7x13

// LinesFunc produces the lines a TextWidget shows on the next frame
type LinesFunc func() []string

// TextWidget draws lines of text on a translucent panel. The text is either
// static (set through config) or produced per frame by a LinesFunc.
type TextWidget struct {
	*BaseWidget

	mu        sync.Mutex
	text      string
	source    LinesFunc
	textColor color.RGBA
	bgColor   color.RGBA
	padding   int
}

// NewTextWidget creates a text widget from config
func NewTextWidget(id string, config map[string]any) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 8, 8, 0.85),
		textColor:  color.RGBA{255, 255, 255, 255},
		bgColor:    color.RGBA{0, 0, 0, 255},
		padding:    5,
	}

	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// NewStatsWidget creates a text widget whose lines come from source
func NewStatsWidget(id string, source LinesFunc) *TextWidget {
	w, _ := NewTextWidget(id, nil)
	w.source = source
	return w
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	if w.source != nil {
		return "stats"
	}
	return "text"
}

func (w *TextWidget) lines() []string {
	if w.source != nil {
		return w.source()
	}
	if w.text == "" {
		return nil
	}
	return strings.Split(w.text, "\n")
}

// Render draws the panel and its lines
func (w *TextWidget) Render(img *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines := w.lines()
	if len(lines) == 0 {
		return nil
	}

	d := &font.Drawer{Face: basicfont.Face7x13}
	width := 0
	for _, line := range lines {
		width = max(width, d.MeasureString(line).Ceil())
	}

	panel := image.Rect(w.x, w.y, w.x+width+w.padding*2, w.y+len(lines)*lineHeight+w.padding*2)
	DrawPanel(img, panel, w.bgColor, w.opacity*0.6)

	textImg := image.NewRGBA(image.Rect(0, 0, width, len(lines)*lineHeight))
	td := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(w.textColor),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		td.Dot = fixed.P(0, (i+1)*lineHeight-basicfont.Face7x13.Descent)
		td.DrawString(line)
	}
	BlendImage(img, textImg, w.x+w.padding, w.y+w.padding, w.opacity)

	return nil
}

// Config returns the widget configuration
func (w *TextWidget) Config() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	config := w.baseConfig()
	config["type"] = w.Type()
	config["padding"] = w.padding
	if w.source == nil {
		config["text"] = w.text
	}
	config["color"] = colorConfig(w.textColor)
	config["background"] = colorConfig(w.bgColor)
	return config
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.updateBase(config)

	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	if padding, ok := getInt(config["padding"]); ok {
		w.padding = max(padding, 0)
	}
	if c, ok := parseColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := parseColor(config["background"]); ok {
		w.bgColor = c
	}
	return nil
}

func colorConfig(c color.RGBA) map[string]any {
	return map[string]any{"r": int(c.R), "g": int(c.G), "b": int(c.B), "a": int(c.A)}
}

func parseColor(v any) (color.RGBA, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return color.RGBA{}, false
	}
	r, _ := getInt(m["r"])
	g, _ := getInt(m["g"])
	b, _ := getInt(m["b"])
	a, ok := getInt(m["a"])
	if !ok {
		a = 255
	}
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)}, true
}
