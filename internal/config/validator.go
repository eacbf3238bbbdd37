package config

import (
	"fmt"
	"strings"

	"github.com/e7canasta/frame-bridge/internal/surface"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	// Validate surfaces
	if cfg.Surfaces.Min < 1 {
		return fmt.Errorf("surfaces.min must be >= 1")
	}
	if cfg.Surfaces.Max < cfg.Surfaces.Min {
		return fmt.Errorf("surfaces.max (%d) must be >= surfaces.min (%d)", cfg.Surfaces.Max, cfg.Surfaces.Min)
	}
	if cfg.Surfaces.Count == 0 {
		cfg.Surfaces.Count = cfg.Surfaces.Min // default
	}
	if cfg.Surfaces.Count < cfg.Surfaces.Min || cfg.Surfaces.Count > cfg.Surfaces.Max {
		return fmt.Errorf("surfaces.count %d outside [%d, %d]", cfg.Surfaces.Count, cfg.Surfaces.Min, cfg.Surfaces.Max)
	}
	if _, err := surface.ParseFormat(cfg.Surfaces.Format); err != nil {
		return fmt.Errorf("surfaces.format: %w", err)
	}

	// Validate stop polling
	if cfg.Stop.MaxPolls <= 0 {
		return fmt.Errorf("stop.max_polls must be > 0")
	}
	if cfg.Stop.PollInterval <= 0 {
		return fmt.Errorf("stop.poll_interval must be > 0")
	}
	if cfg.Stop.MaxPollInterval < cfg.Stop.PollInterval {
		return fmt.Errorf("stop.max_poll_interval (%v) must be >= stop.poll_interval (%v)",
			cfg.Stop.MaxPollInterval, cfg.Stop.PollInterval)
	}

	// Validate window
	if cfg.Window.Width <= 0 || cfg.Window.Height <= 0 {
		return fmt.Errorf("window size must be > 0, got %dx%d", cfg.Window.Width, cfg.Window.Height)
	}
	if cfg.Window.Title == "" {
		cfg.Window.Title = "frame-player" // default
	}

	if cfg.Diagnostics.StatsInterval < 0 {
		return fmt.Errorf("diagnostics.stats_interval must be >= 0")
	}

	// Validate log
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", cfg.Log.Format)
	}

	return nil
}
