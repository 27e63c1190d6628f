package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/annotate"
	"github.com/bryanchriswhite/FaceRelay/internal/annotate/cascade"
	"github.com/bryanchriswhite/FaceRelay/internal/api"
	"github.com/bryanchriswhite/FaceRelay/internal/capture"
	"github.com/bryanchriswhite/FaceRelay/internal/capture/screen"
	"github.com/bryanchriswhite/FaceRelay/internal/capture/webcam"
	"github.com/bryanchriswhite/FaceRelay/internal/config"
	"github.com/bryanchriswhite/FaceRelay/internal/journal"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/session"
)

// openerFor selects the capture device named by cfg.Device
func openerFor(cfg config.SharerConfig) (capture.Opener, error) {
	switch cfg.Device {
	case "", "webcam":
		return capture.Paced(webcam.Opener(cfg.CameraIndex, cfg.Width, cfg.Height), cfg.FPS), nil
	case "pattern":
		return capture.PatternOpener(capture.PatternConfig{
			Width:  cfg.Width,
			Height: cfg.Height,
			FPS:    cfg.FPS,
		}), nil
	case "screen":
		return capture.Paced(screen.Opener(cfg.Width, cfg.Height), cfg.FPS), nil
	default:
		return nil, fmt.Errorf("unknown capture device: %s (use: pattern, webcam, screen)", cfg.Device)
	}
}

// peerAddress appends the default sharer port when peer names only a host
func peerAddress(peer string, port int) string {
	if peer == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(peer); err == nil {
		return peer
	}
	return net.JoinHostPort(peer, strconv.Itoa(port))
}

// annotation bundles the annotation stage with the resources it holds open
type annotation struct {
	store    *annotate.Store
	stage    *annotate.Stage
	journal  *journal.Journal
	detector *cascade.Detector
}

// newAnnotation builds the result store, the optional journal sink and, when
// enabled, the detection stage.
func newAnnotation(cfg *config.Config) (*annotation, error) {
	log := logger.WithComponent("annotate")
	a := &annotation{store: annotate.NewStore()}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = j
		a.store.AddSink(j)
		log.Info().Str("path", cfg.Journal.Path).Msg("Annotation journal enabled")
	}

	if !cfg.Annotate.Enabled {
		log.Info().Msg("Annotation disabled")
		return a, nil
	}

	var det annotate.Detector = annotate.NopDetector{}
	if cfg.Annotate.CascadePath != "" {
		d, err := cascade.Load(cfg.Annotate.CascadePath, cfg.Annotate.MinSize)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load face detector: %w", err)
		}
		a.detector = d
		det = d
		log.Info().Str("cascade", cfg.Annotate.CascadePath).Msg("Face detector loaded")
	} else {
		log.Warn().Msg("No cascade configured (--cascade), frames will not be annotated")
	}

	a.stage = annotate.NewStage(det, annotate.NewBrightnessClassifier(), a.store)
	return a, nil
}

// history returns the journal as an api.History, or nil when disabled
func (a *annotation) history() api.History {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

func (a *annotation) Close() {
	if a.detector != nil {
		a.detector.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.WithComponent("journal").Error().Err(err).Msg("Failed to close journal")
		}
	}
}

// serveAPI runs srv in the background. A listen failure cancels ctx.
func serveAPI(srv *api.Server, port int, cancel context.CancelFunc) {
	go func() {
		if err := srv.Start(port); err != nil {
			logger.WithComponent("api").Error().Err(err).Msg("Server error")
			cancel()
		}
	}()
}

func shutdownAPI(srv *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Server shutdown incomplete")
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// hudLines renders the session status and the most frequent labels for the
// stats overlay
func hudLines(st session.Status, labels []annotate.LabelCount) []string {
	id := st.ID
	if len(id) > 8 {
		id = id[:8]
	}
	lines := []string{
		fmt.Sprintf("%s %s", st.State, id),
		fmt.Sprintf("frames %d  dropped %d  skipped %d", st.Frames, st.Dropped, st.Skipped),
	}

	parts := make([]string, 0, 3)
	for i, lc := range labels {
		if i == 3 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s %d", lc.Label, lc.Count))
	}
	if len(parts) > 0 {
		lines = append(lines, strings.Join(parts, "  "))
	}
	return lines
}
