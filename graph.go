package framebridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/frame-bridge/internal/allocator"
	"github.com/e7canasta/frame-bridge/internal/engine"
	"github.com/e7canasta/frame-bridge/internal/probe"
	"github.com/e7canasta/frame-bridge/internal/signal"
	"github.com/e7canasta/frame-bridge/internal/surface"
)

// Graph is a single playback graph: one engine instance, one surface pool and the
// allocator bridge between them.
//
// Lifecycle:
//   - NewGraph verifies the engine is available (fail-fast).
//   - Build wires a file into a fresh engine and negotiates surfaces.
//   - Run/Pause/Stop drive the transport.
//   - Teardown stops the engine and releases everything.
//
// Thread model: transport methods run on the controlling goroutine; Tick and
// TakeIfReady run on the render goroutine. Both may be the same goroutine.
type Graph struct {
	factory engine.Factory
	cfg     Config

	mu     sync.Mutex
	state  State
	id     string
	path   string
	eng    engine.Engine
	pool   *surface.Pool
	bridge *allocator.Bridge
	ready  *signal.Ready
	built  time.Time

	loops         uint64
	builds        uint64
	buildFailures uint64
	lastErr       error

	rendered atomic.Uint64
}

// NewGraph creates an unbuilt graph.
//
// Returns an error wrapping ErrEnvironmentUnsupported when the engine cannot run
// on this system, or a validation error for an invalid config.
func NewGraph(factory EngineFactory, cfg Config) (*Graph, error) {
	if factory == nil {
		return nil, errors.New("framebridge: nil engine factory")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := factory.Available(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvironmentUnsupported, err)
	}

	return &Graph{
		factory: factory,
		cfg:     cfg,
		ready:   signal.NewReady(),
	}, nil
}

// Build constructs the graph for path. A graph that is already built is torn
// down first.
//
// Steps, each undone in reverse order if a later one fails:
//  1. engine: create the engine instance
//  2. probe: check the source file
//  3. allocator: register the surface allocator with the engine's renderer
//  4. source: wire the file into the engine (preroll)
//  5. negotiate: confirm surfaces were negotiated
//
// On failure the graph is Unbuilt, nothing is left allocated, and the returned
// error is a *BuildError.
func (g *Graph) Build(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateUnbuilt {
		slog.Info("framebridge: tearing down current graph before rebuild",
			"graph_id", g.id,
			"state", g.state.String(),
		)
		if err := g.teardownLocked(); err != nil {
			slog.Warn("framebridge: teardown before rebuild", "error", err)
		}
	}

	id := uuid.New()
	graphID := id.String()

	var undo rollback
	fail := func(step BuildStep, err error) error {
		undo.run()
		g.buildFailures++
		slog.Error("framebridge: build failed",
			"graph_id", graphID,
			"step", string(step),
			"path", path,
			"error", err,
		)
		return &BuildError{Step: step, Path: path, Err: err}
	}

	// 1. engine
	if err := ctx.Err(); err != nil {
		return fail(StepEngine, err)
	}
	eng, err := g.factory.New(engine.Config{
		GraphID:  graphID,
		Format:   g.cfg.Format,
		Surfaces: g.cfg.Surfaces,
	})
	if err != nil {
		return fail(StepEngine, err)
	}
	undo.push(func() {
		if err := eng.Close(); err != nil {
			slog.Warn("framebridge: close engine during rollback", "error", err)
		}
	})

	// 2. probe
	if err := ctx.Err(); err != nil {
		return fail(StepProbe, err)
	}
	info, err := probe.Inspect(path)
	if err != nil {
		return fail(StepProbe, err)
	}

	// 3. allocator
	if err := ctx.Err(); err != nil {
		return fail(StepAllocator, err)
	}
	pool := surface.NewPool()
	ready := signal.NewReady()
	bridge := allocator.New(pool, ready, allocator.Config{
		MinSurfaces: g.cfg.MinSurfaces,
		MaxSurfaces: g.cfg.MaxSurfaces,
	}, cookieFor(id))
	if err := bridge.Attach(eng.Renderer(), g.cfg.Window); err != nil {
		return fail(StepAllocator, fmt.Errorf("%w: %w", ErrAllocatorHandshake, err))
	}
	undo.push(bridge.Detach)

	// 4. source
	if err := ctx.Err(); err != nil {
		return fail(StepSource, err)
	}
	// Preroll may already be calling the allocator; stop before the bridge goes.
	undo.push(func() {
		if err := stopAndConfirm(eng, g.cfg.Stop); err != nil {
			slog.Warn("framebridge: stop engine during rollback", "error", err)
		}
	})
	if err := eng.RenderFile(ctx, path); err != nil {
		return fail(StepSource, err)
	}

	// 5. negotiate
	neg, ok := pool.Negotiation()
	if !ok {
		return fail(StepNegotiate, errors.New("engine did not negotiate surfaces"))
	}
	if err := ctx.Err(); err != nil {
		return fail(StepNegotiate, err)
	}

	g.id = graphID
	g.path = path
	g.eng = eng
	g.pool = pool
	g.bridge = bridge
	g.ready = ready
	g.built = time.Now()
	g.lastErr = nil
	g.builds++
	g.setStateLocked(StateBuilt)

	slog.Info("framebridge: graph built",
		"graph_id", graphID,
		"path", path,
		"container", info.Container,
		"negotiation", neg.String(),
	)
	return nil
}

// Run starts or resumes playback (Built/Paused → Running).
func (g *Graph) Run() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateRunning:
		return nil
	case StateBuilt, StatePaused:
	case StateUnbuilt:
		return ErrNotBuilt
	default:
		return fmt.Errorf("%w: run from %s", ErrInvalidTransition, g.state)
	}

	if err := g.eng.Run(); err != nil {
		return fmt.Errorf("framebridge: run: %w", err)
	}
	g.setStateLocked(StateRunning)
	return nil
}

// Pause pauses playback (Running → Paused). The last presented frame stays
// available to the render thread.
func (g *Graph) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StatePaused:
		return nil
	case StateRunning:
	case StateUnbuilt:
		return ErrNotBuilt
	default:
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, g.state)
	}

	if err := g.eng.Pause(); err != nil {
		return fmt.Errorf("framebridge: pause: %w", err)
	}
	g.setStateLocked(StatePaused)
	return nil
}

// Stop stops the engine and waits, bounded, until it confirms.
//
// Returns an error wrapping ErrStopTimeout if the engine never confirmed; the
// graph is Stopped either way and Teardown may proceed.
func (g *Graph) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateStopped:
		return nil
	case StateBuilt, StateRunning, StatePaused:
	default:
		return ErrNotBuilt
	}

	err := stopAndConfirm(g.eng, g.cfg.Stop)
	g.setStateLocked(StateStopped)
	if err != nil {
		slog.Error("framebridge: engine stop not confirmed", "graph_id", g.id, "error", err)
		return err
	}
	return nil
}

// Teardown stops the engine, unregisters the allocator, frees every surface and
// releases the engine. Safe to call in any state.
//
// Returns an error wrapping ErrStopTimeout if the engine never confirmed the stop;
// the graph is Unbuilt either way.
func (g *Graph) Teardown() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.teardownLocked()
}

func (g *Graph) teardownLocked() error {
	if g.state == StateUnbuilt {
		return nil
	}

	// The streaming thread may still be inside an allocator callback until the
	// engine confirms it is stopped.
	stopErr := stopAndConfirm(g.eng, g.cfg.Stop)
	if stopErr != nil {
		slog.Error("framebridge: engine stop not confirmed, tearing down anyway",
			"graph_id", g.id,
			"error", stopErr,
		)
	}

	g.bridge.Detach()
	if err := g.eng.Close(); err != nil {
		slog.Warn("framebridge: close engine", "graph_id", g.id, "error", err)
	}

	slog.Info("framebridge: graph torn down",
		"graph_id", g.id,
		"path", g.path,
		"uptime", time.Since(g.built).Round(time.Millisecond),
	)

	g.eng = nil
	g.pool = nil
	g.bridge = nil
	g.id = ""
	g.path = ""
	g.setStateLocked(StateUnbuilt)
	return stopErr
}

// Seek moves the playback position.
func (g *Graph) Seek(pos time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUnbuilt {
		return ErrNotBuilt
	}
	if err := g.eng.SeekTo(pos); err != nil {
		return fmt.Errorf("framebridge: seek to %v: %w", pos, err)
	}
	return nil
}

// Position returns the current playback position.
func (g *Graph) Position() (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUnbuilt {
		return 0, ErrNotBuilt
	}
	return g.eng.Position()
}

// Duration returns the stream duration.
func (g *Graph) Duration() (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUnbuilt {
		return 0, ErrNotBuilt
	}
	return g.eng.Duration()
}

// ProcessEvents drains the engine's event queue without blocking and returns the
// number of events handled. A completion event while Running seeks back to the
// start.
func (g *Graph) ProcessEvents() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.eng == nil {
		return 0
	}

	events := g.eng.Events()
	n := 0
	for {
		select {
		case ev := <-events:
			g.handleEventLocked(ev)
			n++
		default:
			return n
		}
	}
}

func (g *Graph) handleEventLocked(ev engine.Event) {
	switch ev.Code {
	case engine.EventComplete:
		if g.state != StateRunning {
			slog.Debug("framebridge: completion ignored", "graph_id", g.id, "state", g.state.String())
			return
		}
		if err := g.eng.SeekTo(0); err != nil {
			g.lastErr = fmt.Errorf("framebridge: loop to start: %w", err)
			slog.Warn("framebridge: loop seek failed", "graph_id", g.id, "error", err)
			return
		}
		g.loops++
		slog.Info("framebridge: end of stream, looping to start",
			"graph_id", g.id,
			"loops", g.loops,
		)

	case engine.EventError:
		g.lastErr = ev.Err
		slog.Error("framebridge: engine error", "graph_id", g.id, "error", ev.Err)

	case engine.EventStateChanged:
		slog.Debug("framebridge: engine state changed", "graph_id", g.id, "engine_state", ev.State.String())

	default:
		slog.Debug("framebridge: engine event", "graph_id", g.id, "event", ev.Code.String())
	}
}

// TakeIfReady hands the most recent presented frame to the render thread. The
// caller must Release it once uploaded.
func (g *Graph) TakeIfReady() (*Surface, bool) {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()
	return ready.TakeIfReady()
}

// FrameReady returns a channel signalled whenever a new frame is presented. The
// channel belongs to the current build.
func (g *Graph) FrameReady() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready.Notify()
}

// DeviceLost tells the allocator the rendering device was lost. Every surface is
// released; the engine drops frames until DeviceRestored.
func (g *Graph) DeviceLost() {
	g.mu.Lock()
	bridge := g.bridge
	g.mu.Unlock()

	if bridge == nil {
		return
	}
	bridge.OnDeviceLost()
}

// DeviceRestored re-negotiates surfaces after DeviceLost.
//
// Returns an error wrapping ErrDeviceLost if surfaces could not be recreated.
func (g *Graph) DeviceRestored() error {
	g.mu.Lock()
	bridge := g.bridge
	g.mu.Unlock()

	if bridge == nil {
		return ErrNotBuilt
	}
	if err := bridge.OnDeviceRestored(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	return nil
}

// DumpGraph writes a topology dump of the engine pipeline into the configured
// diagnostics directory and returns its path.
func (g *Graph) DumpGraph(name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateUnbuilt {
		return "", ErrNotBuilt
	}
	if g.cfg.DotDir == "" {
		return "", errors.New("framebridge: diagnostics dump directory not configured")
	}
	dumper, ok := g.eng.(engine.GraphDumper)
	if !ok {
		return "", errors.New("framebridge: engine does not support topology dumps")
	}
	return dumper.DumpGraph(g.cfg.DotDir, name)
}

// State returns the current graph state.
func (g *Graph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ID returns the current build's graph ID, or "" while unbuilt.
func (g *Graph) ID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.id
}

// Path returns the file the graph was built for, or "" while unbuilt.
func (g *Graph) Path() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.path
}

// LastError returns the most recent asynchronous engine error of this build.
func (g *Graph) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Stats returns current graph statistics.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Stats{
		State:          g.state,
		GraphID:        g.id,
		Path:           g.path,
		FramesRendered: g.rendered.Load(),
		Loops:          g.loops,
		Builds:         g.builds,
		BuildFailures:  g.buildFailures,
	}
	if g.pool != nil {
		ps := g.pool.Stats()
		st.SurfacesAllocated = ps.Allocated
		st.FramesBusy = ps.Busy
		st.Negotiation, _ = g.pool.Negotiation()
	}
	if g.bridge != nil {
		bs := g.bridge.Stats()
		st.FramesPresented = bs.Presented
		st.FramesDropped = bs.Dropped
		st.DeviceLost = bs.Lost
	}
	st.FramesOverwritten = g.ready.Stats().Overwritten
	return st
}

func (g *Graph) setStateLocked(s State) {
	if g.state == s {
		return
	}
	slog.Debug("framebridge: state transition",
		"graph_id", g.id,
		"from", g.state.String(),
		"to", s.String(),
	)
	g.state = s
}

// cookieFor derives the allocator registration cookie from the graph ID.
func cookieFor(id uuid.UUID) uint64 {
	return binary.BigEndian.Uint64(id[:8])
}

// rollback collects undo steps and runs them last-in first-out.
type rollback []func()

func (r *rollback) push(f func()) {
	*r = append(*r, f)
}

func (r rollback) run() {
	for i := len(r) - 1; i >= 0; i-- {
		r[i]()
	}
}
