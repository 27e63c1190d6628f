// Package overlay draws heads-up widgets onto frames on their way to the
// renderers.
package overlay

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/output"
)

// Manager holds widgets in drawing order
type Manager struct {
	mu      sync.RWMutex
	widgets []Widget
	enabled atomic.Bool
}

// NewManager creates a new, enabled overlay manager
func NewManager() *Manager {
	m := &Manager{}
	m.enabled.Store(true)
	return m
}

// AddWidget appends a widget; later widgets draw on top of earlier ones
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.widgets {
		if w.ID() == widget.ID() {
			return fmt.Errorf("widget with ID %s already exists", widget.ID())
		}
	}

	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Info().
		Str("id", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.widgets {
		if w.ID() == id {
			m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
			logger.WithComponent("overlay").Info().Str("id", id).Msg("Removed widget")
			return nil
		}
	}
	return fmt.Errorf("widget with ID %s not found", id)
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.widgets {
		if w.ID() == id {
			return w, true
		}
	}
	return nil, false
}

// GetAllWidgets returns all widgets in drawing order
func (m *Manager) GetAllWidgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Widget(nil), m.widgets...)
}

// UpdateWidget updates a widget's configuration
func (m *Manager) UpdateWidget(id string, config map[string]any) error {
	widget, ok := m.GetWidget(id)
	if !ok {
		return fmt.Errorf("widget with ID %s not found", id)
	}

	if err := widget.UpdateConfig(config); err != nil {
		return fmt.Errorf("failed to update widget config: %w", err)
	}

	logger.WithComponent("overlay").Info().Str("id", id).Msg("Updated widget")
	return nil
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	return m.enabled.Load()
}

// Render draws all enabled widgets onto img
func (m *Manager) Render(img *image.RGBA) {
	if !m.IsEnabled() {
		return
	}

	for _, widget := range m.GetAllWidgets() {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().Err(err).Str("id", widget.ID()).Msg("Failed to render widget")
		}
	}
}

// CreateWidget creates a widget instance from configuration
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]any) (Widget, error) {
	switch widgetType {
	case "text":
		w, err := NewTextWidget(id, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}
}

// Wrap returns an output that draws the overlay onto each frame before
// passing it to next. Frames are drawn on in place.
func (m *Manager) Wrap(next output.Output) output.Output {
	return &overlayOutput{Output: next, overlay: m}
}

type overlayOutput struct {
	output.Output
	overlay *Manager
}

func (o *overlayOutput) WriteFrame(frame *image.RGBA) error {
	o.overlay.Render(frame)
	return o.Output.WriteFrame(frame)
}
