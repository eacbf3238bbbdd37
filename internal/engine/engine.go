// Package engine defines the contract between the playback graph and an external
// media engine.
//
// Two halves meet here:
//
//   - Engine is the control surface the graph drives (run, pause, stop, seek, events).
//   - SurfaceAllocator / AllocatorNotify is the plugin ABI. The engine's video
//     renderer calls SurfaceAllocator on its own streaming thread to obtain,
//     present and recycle surfaces; the allocator uses AllocatorNotify to report
//     allocator-side events back to the renderer.
//
// Call-time constraints on SurfaceAllocator (the engine relies on them):
//   - GetSurface and PresentImage never block and never touch the GPU.
//   - Calls are not reentrant: the engine issues one callback at a time.
//   - A surface obtained with GetSurface is handed back exactly once, through
//     PresentImage or ReleaseSurface.
package engine

import (
	"context"
	"time"

	"github.com/e7canasta/frame-bridge/internal/surface"
)

// State mirrors the engine's own filter state.
type State int

const (
	StateStopped State = iota
	StatePaused
	StateRunning
	// StateTransitioning is reported while an asynchronous state change is pending.
	StateTransitioning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// EventCode identifies an engine event.
type EventCode int

const (
	// EventComplete is posted when the stream reaches its end.
	EventComplete EventCode = iota
	// EventError is posted for an asynchronous pipeline error.
	EventError
	// EventStateChanged is posted when the engine settles in a new State.
	EventStateChanged
	// EventDeviceLost and EventDeviceRestored are posted by the allocator.
	EventDeviceLost
	EventDeviceRestored
)

func (c EventCode) String() string {
	switch c {
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	case EventStateChanged:
		return "state-changed"
	case EventDeviceLost:
		return "device-lost"
	case EventDeviceRestored:
		return "device-restored"
	default:
		return "unknown"
	}
}

// Event is one entry of the engine's event queue.
type Event struct {
	Code  EventCode
	State State // for EventStateChanged
	Err   error // for EventError
}

// SurfaceAllocator is implemented by the host side and called by the engine.
type SurfaceAllocator interface {
	// AdviseNotify hands the allocator the renderer's notification sink.
	AdviseNotify(n AllocatorNotify) error
	// InitializeDevice agrees on surface geometry. The allocator may adjust Count
	// and returns the negotiation it actually allocated.
	InitializeDevice(proposed surface.Negotiation) (surface.Negotiation, error)
	// TerminateDevice frees every surface.
	TerminateDevice()
	// GetSurface returns a writable surface or surface.ErrBusy / surface.ErrNotNegotiated.
	GetSurface() (*surface.Surface, error)
	// PresentImage hands a filled surface over for display.
	PresentImage(s *surface.Surface) error
	// ReleaseSurface returns a surface the engine decided not to present.
	ReleaseSurface(s *surface.Surface)
}

// AllocatorNotify is the renderer-side half of the handshake.
type AllocatorNotify interface {
	// AdviseSurfaceAllocator registers a (nil unregisters) as the active allocator.
	AdviseSurfaceAllocator(cookie uint64, a SurfaceAllocator) error
	// NotifyEvent reports an allocator-side event to the engine.
	NotifyEvent(code EventCode)
}

// Engine is the external pipeline as seen by the playback graph.
type Engine interface {
	// Renderer returns the registration point of the engine's video renderer.
	Renderer() AllocatorNotify
	// RenderFile wires the source file into the graph and prerolls it. Surface
	// negotiation happens inside this call, through the registered allocator.
	RenderFile(ctx context.Context, path string) error

	Run() error
	Pause() error
	// Stop requests the stopped state; the transition may complete asynchronously.
	Stop() error
	// State returns the engine's current state without waiting.
	State() (State, error)

	SeekTo(pos time.Duration) error
	Position() (time.Duration, error)
	Duration() (time.Duration, error)

	// Events returns the engine's event queue. The channel is never closed.
	Events() <-chan Event

	// Close releases every engine resource. The engine must already be stopped.
	Close() error
}

// Config is the per-build engine configuration.
type Config struct {
	// GraphID names the pipeline in logs and diagnostics dumps.
	GraphID string
	// Format is the pixel format the renderer is asked to produce.
	Format surface.Format
	// Surfaces is the surface count the renderer proposes during negotiation.
	Surfaces int
}

// Factory instantiates engines.
type Factory interface {
	// Available reports whether the engine can run on this system.
	Available() error
	New(cfg Config) (Engine, error)
}

// GraphDumper is implemented by engines that can write a diagnostics dump of
// their pipeline topology.
type GraphDumper interface {
	DumpGraph(dir, name string) (string, error)
}
