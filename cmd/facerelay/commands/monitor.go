package commands

import (
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/api"
	"github.com/bryanchriswhite/FaceRelay/internal/codec"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/metrics"
	"github.com/bryanchriswhite/FaceRelay/internal/monitor"
	"github.com/bryanchriswhite/FaceRelay/internal/output"
	"github.com/bryanchriswhite/FaceRelay/internal/output/window"
	"github.com/bryanchriswhite/FaceRelay/internal/overlay"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [peer]",
	Short: "Receive, annotate and display a shared stream",
	Long: `Connect to a sharer, decode every frame, detect and label faces, and
render the annotated frames to the MJPEG viewer and optionally a desktop
window.

peer is host or host:port. Without a peer the monitor waits for
POST /api/monitor/start.

Faces are only detected when a Haar cascade file is given with --cascade
(or annotate.cascade_path), e.g. haarcascade_frontalface_default.xml from
the OpenCV data directory. Without one, frames are shown unannotated.`,
	Example: `  # Watch a sharer on another machine
  facerelay monitor 192.168.1.20

  # Open a desktop window and detect faces with a Haar cascade
  facerelay monitor localhost:5000 --window --cascade haarcascade_frontalface_default.xml

  # Keep annotation history across restarts
  facerelay monitor 10.0.0.5 --journal annotations.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().Bool("window", false, "render in a desktop window")
	monitorCmd.Flags().String("cascade", "", "Haar cascade file for face detection (required for annotation)")
	monitorCmd.Flags().String("journal", "", "SQLite file for annotation history")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("monitor")

	peer := cfg.Monitor.Peer
	if len(args) == 1 {
		peer = args[0]
	}
	peer = peerAddress(peer, cfg.Monitor.Port)

	ann, err := newAnnotation(cfg)
	if err != nil {
		return err
	}
	defer ann.Close()

	displayCfg := output.Config{
		Width:  cfg.Display.Width,
		Height: cfg.Display.Height,
		FPS:    cfg.Display.FPS,
	}
	mjpegOut := output.NewMJPEGOutput(displayCfg)
	renderers := []output.Output{mjpegOut}

	var win *window.Output
	if cfg.Display.Window {
		win = window.New("FaceRelay", displayCfg)
		renderers = append(renderers, win)
	}

	var mon *monitor.Monitor

	hud := overlay.NewManager()
	hud.SetEnabled(cfg.Display.HUD)
	hud.AddWidget(overlay.NewStatsWidget("stats", func() []string {
		return hudLines(mon.Status(), ann.store.Labels())
	}))

	outputs := output.NewMulti(renderers...)
	if err := outputs.Start(); err != nil {
		return err
	}
	defer outputs.Stop()

	maxPayload := cfg.Monitor.PayloadCap()
	if int64(maxPayload) != int64(cfg.Monitor.MaxPayloadBytes) {
		log.Warn().
			Int("configured", cfg.Monitor.MaxPayloadBytes).
			Uint32("using", maxPayload).
			Msg("monitor.max_payload_bytes out of range")
	}

	m := metrics.New()
	mon = monitor.New(codec.New(codec.DefaultQuality), ann.stage, hud.Wrap(outputs), monitor.Options{
		MaxPayload:  maxPayload,
		DialTimeout: time.Duration(cfg.Monitor.DialTimeoutSeconds) * time.Second,
	}, m)
	defer mon.Stop()

	ctx, cancel := signalContext()
	defer cancel()

	server := api.NewServer(api.Deps{
		Store:   ann.store,
		History: ann.history(),
		Monitor: mon,
		Config:  configMgr,
		Metrics: m,
		MJPEG:   mjpegOut,
		Overlay: hud,
	})
	serveAPI(server, cfg.ServerPort, cancel)
	defer shutdownAPI(server)

	if peer != "" {
		if err := mon.Start(ctx, peer); err != nil {
			log.Error().Err(err).Str("peer", peer).Msg("Initial connection failed, use the API to retry")
		}
	} else {
		log.Info().Msg("No peer given, waiting for POST /api/monitor/start")
	}

	log.Info().Msgf("Viewer: http://localhost:%d/viewer - press Ctrl+C to stop", cfg.ServerPort)

	if win != nil {
		win.SetOnClosed(func() {
			log.Info().Msg("Viewer window closed")
			cancel()
		})

		// The window owns the main goroutine until it is closed or a
		// signal quits the application.
		go func() {
			<-ctx.Done()
			win.Stop()
		}()
		win.Run()
		cancel()
	} else {
		<-ctx.Done()
	}

	log.Info().Msg("Shutting down gracefully...")
	return nil
}
