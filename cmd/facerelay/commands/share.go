package commands

import (
	"fmt"

	"github.com/bryanchriswhite/FaceRelay/internal/api"
	"github.com/bryanchriswhite/FaceRelay/internal/codec"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/metrics"
	"github.com/bryanchriswhite/FaceRelay/internal/sharer"
	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Capture frames and serve them to one monitor",
	Long: `Open the capture device and wait for a monitor to connect on the sharer
port. Frames are JPEG encoded and sent as length-prefixed TCP frames.

The HTTP API stays up after a session ends, so sharing can be restarted
with POST /api/sharer/start.`,
	Example: `  # Share the default webcam on the default port (5000)
  facerelay share

  # Share the second webcam at 30 fps
  facerelay share --camera 1 --fps 30

  # Share a synthetic test pattern, no camera needed
  facerelay share --device pattern

  # Share the X11 screen on a custom address
  facerelay share --device screen --listen 0.0.0.0:6000`,
	RunE: runShare,
}

func init() {
	rootCmd.AddCommand(shareCmd)

	shareCmd.Flags().String("listen", "", "address to accept the monitor on (default :5000)")
	shareCmd.Flags().String("device", "", "capture device (webcam, screen, pattern; default webcam)")
	shareCmd.Flags().Int("camera", 0, "webcam index")
	shareCmd.Flags().Int("fps", 0, "capture frame rate")
	shareCmd.Flags().Int("quality", 0, "JPEG quality (1-100)")
}

func runShare(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("share")

	opener, err := openerFor(cfg.Sharer)
	if err != nil {
		return err
	}

	m := metrics.New()
	s := sharer.New(opener, codec.New(cfg.Sharer.Quality), sharer.Options{
		ListenAddr: cfg.Sharer.ListenAddr,
	}, m)

	ctx, cancel := signalContext()
	defer cancel()

	server := api.NewServer(api.Deps{
		Sharer:  s,
		Config:  configMgr,
		Metrics: m,
	})
	serveAPI(server, cfg.ServerPort, cancel)
	defer shutdownAPI(server)

	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start sharing: %w", err)
	}
	defer s.Stop()

	log.Info().
		Str("device", cfg.Sharer.Device).
		Str("listen", s.Addr().String()).
		Int("fps", cfg.Sharer.FPS).
		Msg("Sharing, waiting for a monitor to connect")
	log.Info().Msgf("API: http://localhost:%d/api - press Ctrl+C to stop", cfg.ServerPort)

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")
	return nil
}
