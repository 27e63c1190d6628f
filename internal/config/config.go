package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. FACERELAY_SHARER_FPS.
const EnvPrefix = "FACERELAY"

// Config is the complete application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`

	Sharer   SharerConfig   `json:"sharer" yaml:"sharer" mapstructure:"sharer"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor" mapstructure:"monitor"`
	Annotate AnnotateConfig `json:"annotate" yaml:"annotate" mapstructure:"annotate"`
	Display  DisplayConfig  `json:"display" yaml:"display" mapstructure:"display"`
	Journal  JournalConfig  `json:"journal" yaml:"journal" mapstructure:"journal"`
}

// SharerConfig configures the capture side
type SharerConfig struct {
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr" mapstructure:"listen_addr"`
	Device      string `json:"device" yaml:"device" mapstructure:"device"` // pattern, webcam or screen
	CameraIndex int    `json:"camera_index" yaml:"camera_index" mapstructure:"camera_index"`
	Width       int    `json:"width" yaml:"width" mapstructure:"width"`
	Height      int    `json:"height" yaml:"height" mapstructure:"height"`
	FPS         int    `json:"fps" yaml:"fps" mapstructure:"fps"`
	Quality     int    `json:"quality" yaml:"quality" mapstructure:"quality"`
}

// MonitorConfig configures the receive side
type MonitorConfig struct {
	Peer               string `json:"peer" yaml:"peer" mapstructure:"peer"`
	Port               int    `json:"port" yaml:"port" mapstructure:"port"`
	MaxPayloadBytes    int    `json:"max_payload_bytes" yaml:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	DialTimeoutSeconds int    `json:"dial_timeout_seconds" yaml:"dial_timeout_seconds" mapstructure:"dial_timeout_seconds"`
}

// AnnotateConfig configures face detection
type AnnotateConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	CascadePath string `json:"cascade_path" yaml:"cascade_path" mapstructure:"cascade_path"`
	MinSize     int    `json:"min_size" yaml:"min_size" mapstructure:"min_size"`
}

// DisplayConfig configures the renderers
type DisplayConfig struct {
	Width  int  `json:"width" yaml:"width" mapstructure:"width"`
	Height int  `json:"height" yaml:"height" mapstructure:"height"`
	FPS    int  `json:"fps" yaml:"fps" mapstructure:"fps"`
	Window bool `json:"window" yaml:"window" mapstructure:"window"`
	HUD    bool `json:"hud" yaml:"hud" mapstructure:"hud"` // session stats overlay
}

// MaxPayloadLimit is the largest accepted monitor.max_payload_bytes.
const MaxPayloadLimit = 1 << 30

// PayloadCap returns MaxPayloadBytes as a frame size cap. Values outside
// 1..MaxPayloadLimit, e.g. from an environment override, are clamped.
func (c MonitorConfig) PayloadCap() uint32 {
	switch {
	case c.MaxPayloadBytes <= 0:
		return uint32(Defaults().Monitor.MaxPayloadBytes)
	case c.MaxPayloadBytes > MaxPayloadLimit:
		return MaxPayloadLimit
	}
	return uint32(c.MaxPayloadBytes)
}

// JournalConfig configures the annotation history database
type JournalConfig struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"` // empty disables the journal
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Sharer: SharerConfig{
			ListenAddr: ":5000",
			Device:     "webcam",
			Width:      640,
			Height:     480,
			FPS:        15,
			Quality:    80,
		},
		Monitor: MonitorConfig{
			Port:               5000,
			MaxPayloadBytes:    32 << 20,
			DialTimeoutSeconds: 5,
		},
		Annotate: AnnotateConfig{
			Enabled: true,
			MinSize: 30,
		},
		Display: DisplayConfig{
			Width:  1280,
			Height: 720,
			FPS:    15,
			HUD:    true,
		},
	}
}

var (
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validDevices   = map[string]bool{"pattern": true, "webcam": true, "screen": true}
)

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	config     Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. An empty configFile uses
// $HOME/.config/facerelay/config.yaml. A missing file is created with
// defaults. Values from .env and FACERELAY_* variables override the file.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "facerelay", "config.yaml")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WithComponent("config").Warn().Err(err).Msg("Failed to load .env file")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(actualConfigPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
	}

	if _, err := os.Stat(actualConfigPath); errors.Is(err, fs.ErrNotExist) {
		logger.WithComponent("config").Info().
			Str("path", actualConfigPath).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := m.reload(); err != nil {
		return nil, err
	}

	return m, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("sharer.listen_addr", d.Sharer.ListenAddr)
	v.SetDefault("sharer.device", d.Sharer.Device)
	v.SetDefault("sharer.camera_index", d.Sharer.CameraIndex)
	v.SetDefault("sharer.width", d.Sharer.Width)
	v.SetDefault("sharer.height", d.Sharer.Height)
	v.SetDefault("sharer.fps", d.Sharer.FPS)
	v.SetDefault("sharer.quality", d.Sharer.Quality)
	v.SetDefault("monitor.peer", d.Monitor.Peer)
	v.SetDefault("monitor.port", d.Monitor.Port)
	v.SetDefault("monitor.max_payload_bytes", d.Monitor.MaxPayloadBytes)
	v.SetDefault("monitor.dial_timeout_seconds", d.Monitor.DialTimeoutSeconds)
	v.SetDefault("annotate.enabled", d.Annotate.Enabled)
	v.SetDefault("annotate.cascade_path", d.Annotate.CascadePath)
	v.SetDefault("annotate.min_size", d.Annotate.MinSize)
	v.SetDefault("display.width", d.Display.Width)
	v.SetDefault("display.height", d.Display.Height)
	v.SetDefault("display.fps", d.Display.FPS)
	v.SetDefault("display.window", d.Display.Window)
	v.SetDefault("display.hud", d.Display.HUD)
	v.SetDefault("journal.path", d.Journal.Path)
}

// reload rebuilds the typed config from every viper layer
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.config
	return &cfg
}

// GetViper returns the underlying viper instance, for flag binding
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Reload re-reads every layer after flags were bound to the viper instance
func (m *Manager) Reload() error {
	return m.reload()
}

// Keys returns every known configuration key, sorted
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// Set parses value according to key's type, applies it and saves.
func (m *Manager) Set(key, value string) error {
	key = strings.ToLower(key)
	def := viper.New()
	setDefaults(def)
	if !def.IsSet(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var parsed any
	switch def.Get(key).(type) {
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		if n < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
		parsed = n
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		parsed = b
	default:
		parsed = value
	}

	switch key {
	case "log_level":
		if !validLogLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
	case "sharer.device":
		if !validDevices[value] {
			return fmt.Errorf("invalid device: %s (use: pattern, webcam, screen)", value)
		}
	case "server_port", "monitor.port":
		if n := parsed.(int); n == 0 || n > 65535 {
			return fmt.Errorf("invalid port number: %s", value)
		}
	case "monitor.max_payload_bytes":
		if n := parsed.(int); n == 0 || n > MaxPayloadLimit {
			return fmt.Errorf("invalid payload cap: %s (use 1 to %d)", value, MaxPayloadLimit)
		}
	}

	m.v.Set(key, parsed)
	if err := m.reload(); err != nil {
		return err
	}
	return m.persist(func(file *viper.Viper) { file.Set(key, parsed) })
}

// Save writes the defaults merged with the config file back to disk.
// Environment, .env and flag overrides are not persisted.
func (m *Manager) Save() error {
	return m.persist(nil)
}

func (m *Manager) persist(apply func(file *viper.Viper)) error {
	log := logger.WithComponent("config")

	file := viper.New()
	setDefaults(file)
	file.SetConfigFile(m.configPath)
	file.SetConfigType("yaml")
	if _, err := os.Stat(m.configPath); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	if apply != nil {
		apply(file)
	}

	var cfg Config
	if err := file.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	log.Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		log.Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
