package output

import (
	"fmt"
	"image"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/codec"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
)

// mjpegQuality is the JPEG quality of the browser stream, independent of the
// wire codec.
const mjpegQuality = 90

// MJPEGOutput streams frames as Motion JPEG over HTTP
// Open /viewer in a browser to watch the annotated stream
type MJPEGOutput struct {
	config  Config
	codec   *codec.Codec
	running bool
	mu      sync.RWMutex

	// Current frame buffer
	frameMu      sync.RWMutex
	currentFrame []byte
	lastUpdate   time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	frameCount   atomic.Uint64
	skippedCount atomic.Uint64
	startTime    time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	return &MJPEGOutput{
		config:  config,
		codec:   codec.New(mjpegQuality),
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output
// Note: The HTTP handler is registered separately via GetHTTPHandler()
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount.Store(0)
	m.skippedCount.Store(0)

	logger.WithComponent("mjpeg").Info().Msgf("Output started: %dx%d @ %d FPS", m.config.Width, m.config.Height, m.config.FPS)
	return nil
}

// Stop cleanly shuts down the output
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	// Close all client connections
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Msgf("Output stopped after %v frames", m.frameCount.Load())
	return nil
}

// WriteFrame scales a frame to the output size and sends it to all
// connected clients. Frames arriving faster than the configured FPS are
// skipped.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	if m.config.FPS > 0 {
		m.frameMu.RLock()
		since := time.Since(m.lastUpdate)
		m.frameMu.RUnlock()
		if since < time.Second/time.Duration(m.config.FPS) {
			m.skippedCount.Add(1)
			return nil
		}
	}

	if m.config.Width > 0 && m.config.Height > 0 {
		frame = Letterbox(frame, m.config.Width, m.config.Height)
	}

	jpegData, err := m.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}

	// Update current frame
	m.frameMu.Lock()
	m.currentFrame = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.frameCount.Add(1)

	// Broadcast to all clients
	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
			// Sent successfully
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream
// Mount this at /stream or similar endpoint
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		// Set headers for MJPEG stream
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		// Create channel for this client
		frameChan := make(chan []byte, 2) // Buffer 2 frames

		// Send the last frame right away so new clients don't wait for motion
		m.frameMu.RLock()
		if m.currentFrame != nil {
			frameChan <- m.currentFrame
		}
		m.frameMu.RUnlock()

		// Register client
		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Msgf("New client connected (total: %d)", clientCount)

		// Cleanup on disconnect
		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Msgf("Client disconnected (remaining: %d)", clientCount)
		}()

		// Stream frames to client
		for {
			var jpegData []byte
			var ok bool
			select {
			case jpegData, ok = <-frameChan:
				if !ok {
					return
				}
			case <-r.Context().Done():
				return
			}

			// Write multipart boundary
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}

			// Write JPEG data
			if _, err := w.Write(jpegData); err != nil {
				return
			}

			// Write closing boundary
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}

			// Flush to client
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// GetViewerHandler returns an HTTP handler that displays the stream next to
// the live label counts
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>FaceRelay</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            font-family: system-ui, -apple-system, sans-serif;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .labels {
            position: fixed;
            top: 16px;
            right: 16px;
            padding: 10px 14px;
            background: rgba(40, 40, 40, 0.85);
            color: #ccc;
            border-radius: 8px;
            font-size: 13px;
            min-width: 140px;
        }
        .labels h2 {
            font-size: 12px;
            text-transform: uppercase;
            color: #888;
            margin-bottom: 6px;
        }
        .labels li {
            list-style: none;
            display: flex;
            justify-content: space-between;
            gap: 12px;
        }
        .labels .count {
            color: #4ec9b0;
        }
        .nav-menu {
            position: fixed;
            bottom: 16px;
            left: 16px;
            display: flex;
            gap: 8px;
        }
        .nav-link {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            text-decoration: none;
            border-radius: 20px;
            font-size: 13px;
            border: none;
            cursor: pointer;
        }
        .nav-link:hover {
            background: rgba(60, 60, 60, 0.95);
            color: #fff;
        }
    </style>
</head>
<body>
    <img src="/stream" alt="FaceRelay Live Stream">
    <div class="labels">
        <h2>Labels</h2>
        <ul id="labels"></ul>
    </div>
    <div class="nav-menu">
        <a href="/stats" class="nav-link">Stats</a>
        <button class="nav-link" onclick="resetAnnotations()">Reset</button>
    </div>
    <script>
        async function refreshLabels() {
            try {
                const res = await fetch('/api/annotations/labels');
                const labels = await res.json();
                const list = document.getElementById('labels');
                list.innerHTML = '';
                (labels || []).forEach(l => {
                    const li = document.createElement('li');
                    li.innerHTML = '<span></span><span class="count"></span>';
                    li.children[0].textContent = l.label;
                    li.children[1].textContent = l.count;
                    list.appendChild(li);
                });
            } catch (e) {
                console.error('Failed to load labels', e);
            }
        }
        async function resetAnnotations() {
            await fetch('/api/annotations/reset', { method: 'POST' });
            refreshLabels();
        }
        refreshLabels();
        setInterval(refreshLabels, 1000);
    </script>
</body>
</html>`

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		running := m.running
		startTime := m.startTime
		m.mu.RUnlock()
		frameCount := m.frameCount.Load()
		skipped := m.skippedCount.Load()

		m.frameMu.RLock()
		lastUpdate := m.lastUpdate
		m.frameMu.RUnlock()

		clientCount := m.ClientCount()

		var fps float64
		if running && !startTime.IsZero() {
			elapsed := time.Since(startTime).Seconds()
			if elapsed > 0 {
				fps = float64(frameCount) / elapsed
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>FaceRelay - MJPEG Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .status-running { color: #4ec9b0; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>FaceRelay MJPEG Stream Stats</h1>
    <div class="stat">
        <span class="label">Status:</span>
        <span class="value %s">%s</span>
    </div>
    <div class="stat">
        <span class="label">Resolution:</span>
        <span class="value">%dx%d @ %d FPS (target)</span>
    </div>
    <div class="stat">
        <span class="label">Actual FPS:</span>
        <span class="value">%.2f</span>
    </div>
    <div class="stat">
        <span class="label">Total Frames:</span>
        <span class="value">%d</span>
    </div>
    <div class="stat">
        <span class="label">Skipped (rate limit):</span>
        <span class="value">%d</span>
    </div>
    <div class="stat">
        <span class="label">Connected Clients:</span>
        <span class="value">%d</span>
    </div>
    <div class="stat">
        <span class="label">Last Update:</span>
        <span class="value">%s</span>
    </div>
    <div class="stat">
        <span class="label">Uptime:</span>
        <span class="value">%s</span>
    </div>
    <p><a href="/viewer" style="color: #569cd6;">View Stream</a></p>
</body>
</html>`,
			func() string {
				if running {
					return "status-running"
				}
				return "status-stopped"
			}(),
			func() string {
				if running {
					return "Running"
				}
				return "Stopped"
			}(),
			m.config.Width, m.config.Height, m.config.FPS,
			fps,
			frameCount,
			skipped,
			clientCount,
			func() string {
				if lastUpdate.IsZero() {
					return "Never"
				}
				return time.Since(lastUpdate).Round(time.Millisecond).String() + " ago"
			}(),
			func() string {
				if startTime.IsZero() {
					return "N/A"
				}
				return time.Since(startTime).Round(time.Second).String()
			}(),
		)
	}
}
