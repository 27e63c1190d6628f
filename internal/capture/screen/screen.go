// Package screen captures the X11 root window as a capture.Device.
package screen

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/FaceRelay/internal/capture"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
)

// Screen grabs the root window of the default X screen
type Screen struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	width  int
	height int
	mu     sync.Mutex
	closed bool
}

// Open connects to the X server named by $DISPLAY. A zero width or height
// captures the full root window.
func Open(width, height int) (*Screen, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, &capture.DeviceError{Op: "open", Device: "screen", Err: fmt.Errorf("failed to connect to X server: %w", err)}
	}

	setup := xproto.Setup(conn)
	info := setup.DefaultScreen(conn)

	s := &Screen{
		conn:   conn,
		root:   info.Root,
		screen: info,
		width:  int(info.WidthInPixels),
		height: int(info.HeightInPixels),
	}
	if width > 0 && width < s.width {
		s.width = width
	}
	if height > 0 && height < s.height {
		s.height = height
	}

	if d := info.RootDepth; d != 24 && d != 32 {
		conn.Close()
		return nil, &capture.DeviceError{Op: "open", Device: "screen", Err: fmt.Errorf("unsupported root depth %d", d)}
	}

	logger.WithComponent("screen").Info().
		Int("width", s.width).
		Int("height", s.height).
		Uint8("depth", info.RootDepth).
		Msg("Connected to X server")

	return s, nil
}

// Opener returns a capture.Opener for the root window.
func Opener(width, height int) capture.Opener {
	return func() (capture.Device, error) {
		return Open(width, height)
	}
}

// Name returns the device name
func (s *Screen) Name() string {
	return "screen"
}

// Read captures the top-left region of the root window
func (s *Screen) Read() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &capture.DeviceError{Op: "read", Device: s.Name(), Err: errors.New("device closed")}
	}

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		0, 0,
		uint16(s.width), uint16(s.height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, &capture.DeviceError{Op: "read", Device: s.Name(), Err: fmt.Errorf("failed to get image: %w", err)}
	}

	return convertBGRA(reply.Data, s.width, s.height), nil
}

// convertBGRA converts ZPixmap data at depth 24/32 to RGBA
func convertBGRA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}

// Close closes the X connection
func (s *Screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.Close()
	return nil
}
