package framebridge

import (
	"fmt"
	"time"

	"github.com/e7canasta/frame-bridge/internal/allocator"
	"github.com/e7canasta/frame-bridge/internal/engine"
	"github.com/e7canasta/frame-bridge/internal/surface"
)

// Surface is re-exported from the internal surface package.
// See internal/surface/surface.go for the ownership protocol.
type Surface = surface.Surface

// Negotiation is re-exported from the internal surface package.
type Negotiation = surface.Negotiation

// Format is re-exported from the internal surface package.
type Format = surface.Format

const (
	FormatRGBA = surface.FormatRGBA
	FormatBGRA = surface.FormatBGRA
)

// EngineFactory is re-exported from the internal engine package.
type EngineFactory = engine.Factory

// WindowHandle is re-exported from the internal allocator package.
type WindowHandle = allocator.WindowHandle

// State is the playback graph lifecycle state.
//
//	Unbuilt --Build--> Built --Run--> Running <--Pause/Run--> Paused
//	Running/Paused --Stop--> Stopped --Teardown--> Unbuilt
type State int

const (
	StateUnbuilt State = iota
	StateBuilt
	StateRunning
	StatePaused
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilt:
		return "built"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopConfig bounds the stop-confirmation poll.
type StopConfig struct {
	// MaxPolls is the number of Stop+State rounds before giving up (default: 50).
	MaxPolls int
	// PollInterval is the first back-off delay (default: 1ms).
	PollInterval time.Duration
	// MaxPollInterval caps the back-off delay (default: 50ms).
	MaxPollInterval time.Duration
}

// DefaultStopConfig returns the default stop poll bounds (about 2s worst case).
func DefaultStopConfig() StopConfig {
	return StopConfig{
		MaxPolls:        50,
		PollInterval:    1 * time.Millisecond,
		MaxPollInterval: 50 * time.Millisecond,
	}
}

// Config contains configuration for a playback graph.
type Config struct {
	// Format is the pixel format requested from the engine.
	Format Format
	// Surfaces is the surface count proposed to the engine.
	Surfaces int
	// MinSurfaces and MaxSurfaces clamp whatever count the engine negotiates.
	MinSurfaces int
	MaxSurfaces int
	// Stop bounds the stop-confirmation poll.
	Stop StopConfig
	// Window identifies the host window the surfaces are presented to.
	Window WindowHandle
	// DotDir enables pipeline topology dumps when non-empty.
	DotDir string
}

// DefaultConfig returns the default graph configuration.
func DefaultConfig() Config {
	return Config{
		Format:      FormatRGBA,
		Surfaces:    3,
		MinSurfaces: 2,
		MaxSurfaces: 4,
		Stop:        DefaultStopConfig(),
	}
}

func (c Config) validate() error {
	if c.MinSurfaces < 1 {
		return fmt.Errorf("framebridge: min surfaces must be >= 1 (got %d)", c.MinSurfaces)
	}
	if c.MaxSurfaces < c.MinSurfaces {
		return fmt.Errorf("framebridge: max surfaces %d below min surfaces %d", c.MaxSurfaces, c.MinSurfaces)
	}
	if c.Surfaces < c.MinSurfaces || c.Surfaces > c.MaxSurfaces {
		return fmt.Errorf("framebridge: surfaces %d outside [%d, %d]", c.Surfaces, c.MinSurfaces, c.MaxSurfaces)
	}
	if c.Stop.MaxPolls < 1 {
		return fmt.Errorf("framebridge: stop max polls must be >= 1 (got %d)", c.Stop.MaxPolls)
	}
	if c.Stop.PollInterval <= 0 || c.Stop.MaxPollInterval < c.Stop.PollInterval {
		return fmt.Errorf("framebridge: invalid stop poll interval %v (max %v)", c.Stop.PollInterval, c.Stop.MaxPollInterval)
	}
	return nil
}

// Stats contains current graph statistics.
type Stats struct {
	State       State
	GraphID     string
	Path        string
	Negotiation Negotiation

	// SurfacesAllocated is the number of surfaces held by the live pool.
	SurfacesAllocated int
	// FramesPresented counts frames the engine presented.
	FramesPresented uint64
	// FramesBusy counts acquire attempts that found every surface in use.
	FramesBusy uint64
	// FramesDropped counts surfaces the engine handed back unpresented.
	FramesDropped uint64
	// FramesOverwritten counts presented frames replaced before the render tick.
	FramesOverwritten uint64
	// FramesRendered counts frames uploaded by Tick.
	FramesRendered uint64

	// Loops counts end-of-stream restarts.
	Loops uint64
	// Builds and BuildFailures count Build outcomes over the graph's lifetime.
	Builds        uint64
	BuildFailures uint64
	// DeviceLost counts device-lost events handled by the allocator.
	DeviceLost uint64
}
