// Package config loads frame-player configuration from a YAML file, environment
// variables (FRAMEBRIDGE_*) and defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	framebridge "github.com/e7canasta/frame-bridge"
	"github.com/e7canasta/frame-bridge/internal/surface"
)

// EnvPrefix is the prefix of configuration environment variables, e.g.
// FRAMEBRIDGE_LOG_LEVEL=debug.
const EnvPrefix = "FRAMEBRIDGE"

// Config is the complete frame-player configuration
type Config struct {
	Surfaces    SurfacesConfig    `mapstructure:"surfaces" yaml:"surfaces"`
	Stop        StopConfig        `mapstructure:"stop" yaml:"stop"`
	Window      WindowConfig      `mapstructure:"window" yaml:"window"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// SurfacesConfig bounds the surface pool negotiated with the engine
type SurfacesConfig struct {
	Count  int    `mapstructure:"count" yaml:"count"`
	Min    int    `mapstructure:"min" yaml:"min"`
	Max    int    `mapstructure:"max" yaml:"max"`
	Format string `mapstructure:"format" yaml:"format"`
}

// StopConfig bounds the stop-confirmation poll
type StopConfig struct {
	MaxPolls        int           `mapstructure:"max_polls" yaml:"max_polls"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval" yaml:"max_poll_interval"`
}

// WindowConfig configures the SDL host window
type WindowConfig struct {
	Title      string `mapstructure:"title" yaml:"title"`
	Width      int    `mapstructure:"width" yaml:"width"`
	Height     int    `mapstructure:"height" yaml:"height"`
	Fullscreen bool   `mapstructure:"fullscreen" yaml:"fullscreen"`
	VSync      bool   `mapstructure:"vsync" yaml:"vsync"`
}

// DiagnosticsConfig configures optional debugging aids
type DiagnosticsConfig struct {
	// DotDir enables pipeline topology dumps (empty = disabled)
	DotDir string `mapstructure:"dot_dir" yaml:"dot_dir"`
	// StatsInterval is how often the host logs graph statistics (0 = never)
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	// SnapshotDir is where the 's' key and the headless command write PNGs
	SnapshotDir string `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// Default returns the built-in configuration.
func Default() *Config {
	stop := framebridge.DefaultStopConfig()
	graph := framebridge.DefaultConfig()
	return &Config{
		Surfaces: SurfacesConfig{
			Count:  graph.Surfaces,
			Min:    graph.MinSurfaces,
			Max:    graph.MaxSurfaces,
			Format: graph.Format.String(),
		},
		Stop: StopConfig{
			MaxPolls:        stop.MaxPolls,
			PollInterval:    stop.PollInterval,
			MaxPollInterval: stop.MaxPollInterval,
		},
		Window: WindowConfig{
			Title:  "frame-player",
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		Diagnostics: DiagnosticsConfig{
			SnapshotDir: ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from cfgFile (or frame-player.yaml in the working
// directory when empty), applies FRAMEBRIDGE_* environment overrides and
// validates the result. A missing default file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("frame-player")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
		slog.Debug("config: no config file found, using defaults")
	} else {
		slog.Debug("config: loaded", "file", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even without a
// config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("surfaces.count", d.Surfaces.Count)
	v.SetDefault("surfaces.min", d.Surfaces.Min)
	v.SetDefault("surfaces.max", d.Surfaces.Max)
	v.SetDefault("surfaces.format", d.Surfaces.Format)

	v.SetDefault("stop.max_polls", d.Stop.MaxPolls)
	v.SetDefault("stop.poll_interval", d.Stop.PollInterval)
	v.SetDefault("stop.max_poll_interval", d.Stop.MaxPollInterval)

	v.SetDefault("window.title", d.Window.Title)
	v.SetDefault("window.width", d.Window.Width)
	v.SetDefault("window.height", d.Window.Height)
	v.SetDefault("window.fullscreen", d.Window.Fullscreen)
	v.SetDefault("window.vsync", d.Window.VSync)

	v.SetDefault("diagnostics.dot_dir", d.Diagnostics.DotDir)
	v.SetDefault("diagnostics.stats_interval", d.Diagnostics.StatsInterval)
	v.SetDefault("diagnostics.snapshot_dir", d.Diagnostics.SnapshotDir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Graph converts the configuration into a playback graph configuration.
func (c *Config) Graph(window framebridge.WindowHandle) (framebridge.Config, error) {
	format, err := surface.ParseFormat(c.Surfaces.Format)
	if err != nil {
		return framebridge.Config{}, err
	}
	return framebridge.Config{
		Format:      format,
		Surfaces:    c.Surfaces.Count,
		MinSurfaces: c.Surfaces.Min,
		MaxSurfaces: c.Surfaces.Max,
		Stop: framebridge.StopConfig{
			MaxPolls:        c.Stop.MaxPolls,
			PollInterval:    c.Stop.PollInterval,
			MaxPollInterval: c.Stop.MaxPollInterval,
		},
		Window: window,
		DotDir: c.Diagnostics.DotDir,
	}, nil
}

// SlogLevel maps Log.Level to a slog.Level (info when unrecognised).
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
