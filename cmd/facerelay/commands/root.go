package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/FaceRelay/internal/config"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "facerelay",
		Short: "FaceRelay - Stream a camera or screen and annotate faces on the other end",
		Long: `FaceRelay streams frames from a camera or the screen over TCP to a
monitor that detects faces, labels them and renders the annotated video.

Features:
  • Webcam, X11 screen and test-pattern capture
  • Length-prefixed JPEG frames over TCP
  • Face detection with Haar cascades
  • Annotation history in SQLite
  • MJPEG viewer, desktop window and REST API
  • Prometheus metrics`,
		SilenceUsage: true,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/facerelay/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// flagKeys maps command flags onto configuration keys
var flagKeys = map[string]string{
	"port":       "server_port",
	"log-level":  "log_level",
	"log-pretty": "log_pretty",
	"listen":     "sharer.listen_addr",
	"device":     "sharer.device",
	"camera":     "sharer.camera_index",
	"fps":        "sharer.fps",
	"quality":    "sharer.quality",
	"window":     "display.window",
	"cascade":    "annotate.cascade_path",
	"journal":    "journal.path",
}

// loadConfig loads the configuration, lets explicitly set flags override
// it for this run only, and initializes logging.
func loadConfig(flags *pflag.FlagSet) (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	v := configMgr.GetViper()
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	if err := configMgr.Reload(); err != nil {
		return nil, err
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.WithComponent("config").Info().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	return configMgr, nil
}
