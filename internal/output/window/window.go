// Package window renders frames in a desktop window.
package window

import (
	"fmt"
	"image"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/output"
)

// Output shows the latest frame in a window, scaled to fit without
// changing its aspect ratio. Run must be called from the main goroutine.
type Output struct {
	app    fyne.App
	window fyne.Window
	image  *canvas.Image
	status *widget.Label

	frames chan *image.RGBA
	quit   chan struct{}

	mu      sync.Mutex
	running bool
	last    *image.RGBA
	count   uint64
	started time.Time
}

// New creates a window output with its own fyne application
func New(title string, cfg output.Config) *Output {
	return NewWithApp(app.New(), title, cfg)
}

// NewWithApp creates a window output on an existing fyne application
func NewWithApp(a fyne.App, title string, cfg output.Config) *Output {
	w := a.NewWindow(title)

	img := canvas.NewImageFromImage(nil)
	img.FillMode = canvas.ImageFillContain
	img.ScaleMode = canvas.ImageScaleFastest

	status := widget.NewLabel("Waiting for frames")

	w.SetContent(container.NewBorder(nil, status, nil, nil, img))
	if cfg.Width > 0 && cfg.Height > 0 {
		w.Resize(fyne.NewSize(float32(cfg.Width), float32(cfg.Height)))
	}

	return &Output{
		app:    a,
		window: w,
		image:  img,
		status: status,
		frames: make(chan *image.RGBA, 1),
	}
}

// SetOnClosed registers fn to run when the user closes the window
func (o *Output) SetOnClosed(fn func()) {
	o.window.SetOnClosed(fn)
}

// Start begins draining frames into the window
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("window output already running")
	}
	o.running = true
	o.started = time.Now()
	o.count = 0
	o.quit = make(chan struct{})

	go o.updateLoop(o.quit)

	logger.WithComponent("window").Info().Msg("Window output started")
	return nil
}

// Run shows the window and blocks until the application quits
func (o *Output) Run() {
	o.window.ShowAndRun()
}

// Stop stops drawing and quits the application
func (o *Output) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.quit)
	o.mu.Unlock()

	o.app.Quit()
	logger.WithComponent("window").Info().Msg("Window output stopped")
	return nil
}

// WriteFrame queues frame for display, replacing any frame not yet drawn
func (o *Output) WriteFrame(frame *image.RGBA) error {
	if !o.IsRunning() {
		return fmt.Errorf("window output not running")
	}
	for {
		select {
		case o.frames <- frame:
			return nil
		default:
		}
		select {
		case <-o.frames:
		default:
		}
	}
}

func (o *Output) updateLoop(quit chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case frame := <-o.frames:
			o.mu.Lock()
			o.last = frame
			o.count++
			fps := float64(o.count) / time.Since(o.started).Seconds()
			o.mu.Unlock()

			o.image.Image = frame
			o.image.Refresh()
			o.status.SetText(fmt.Sprintf("%dx%d  %.1f fps", frame.Bounds().Dx(), frame.Bounds().Dy(), fps))
		}
	}
}

// LastFrame returns the most recently drawn frame
func (o *Output) LastFrame() *image.RGBA {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Name returns the output type name
func (o *Output) Name() string {
	return "Desktop Window"
}

// IsRunning returns true if the output is active
func (o *Output) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}
