// Package enginetest provides an in-process engine for tests.
//
// The fake follows the same callback protocol as the GStreamer engine: its
// renderer negotiates surfaces inside RenderFile and DecodeFrame runs one
// acquire → fill → present cycle, on whichever goroutine calls it. Tests that
// need a separate streaming thread run DecodeFrame from their own goroutine or
// set Options.FrameInterval.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/e7canasta/frame-bridge/internal/engine"
	"github.com/e7canasta/frame-bridge/internal/surface"
)

// Fault selects a sub-step of graph construction to fail.
type Fault int

const (
	FaultNone Fault = iota
	// FaultNew makes Factory.New fail.
	FaultNew
	// FaultAdvise makes the renderer reject the allocator registration.
	FaultAdvise
	// FaultRenderFile makes RenderFile fail before negotiation.
	FaultRenderFile
	// FaultNegotiate makes RenderFile propose a geometry the allocator rejects.
	FaultNegotiate
	// FaultSkipNegotiate makes RenderFile succeed without negotiating surfaces.
	FaultSkipNegotiate
)

// ErrInjected is returned by injected faults.
var ErrInjected = errors.New("enginetest: injected fault")

// Options configures fake engines.
type Options struct {
	Width    int
	Height   int
	Duration time.Duration
	// FrameInterval > 0 starts a streaming goroutine while running.
	FrameInterval time.Duration
	// StopLatency is the number of State polls that report transitioning after Stop.
	StopLatency int
	// NeverStops keeps the engine transitioning forever after Stop.
	NeverStops bool
	Fault      Fault
}

// Factory implements engine.Factory.
type Factory struct {
	Opts        Options
	Unavailable error

	mu      sync.Mutex
	engines []*Engine
}

// NewFactory returns a factory producing 320x240 engines with a 10s clip.
func NewFactory(opts Options) *Factory {
	if opts.Width == 0 {
		opts.Width = 320
	}
	if opts.Height == 0 {
		opts.Height = 240
	}
	if opts.Duration == 0 {
		opts.Duration = 10 * time.Second
	}
	return &Factory{Opts: opts}
}

// Available implements engine.Factory.
func (f *Factory) Available() error {
	return f.Unavailable
}

// New implements engine.Factory.
func (f *Factory) New(cfg engine.Config) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Opts.Fault == FaultNew {
		return nil, fmt.Errorf("%w: new", ErrInjected)
	}
	e := &Engine{
		opts:   f.Opts,
		cfg:    cfg,
		events: make(chan engine.Event, 64),
	}
	e.renderer = &renderer{e: e}
	f.engines = append(f.engines, e)
	return e, nil
}

// SetFault changes the fault for engines created from now on.
func (f *Factory) SetFault(fault Fault) {
	f.mu.Lock()
	f.Opts.Fault = fault
	f.mu.Unlock()
}

// Engines returns every engine created so far.
func (f *Factory) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Engine(nil), f.engines...)
}

// Last returns the most recently created engine, or nil.
func (f *Factory) Last() *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

// Engine implements engine.Engine.
type Engine struct {
	opts     Options
	cfg      engine.Config
	renderer *renderer
	events   chan engine.Event

	mu          sync.Mutex
	alloc       engine.SurfaceAllocator
	cookie      uint64
	state       engine.State
	pos         time.Duration
	path        string
	stopPending int
	stopCalls   int
	closed      bool
	frame       uint64

	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

type renderer struct {
	e *Engine
}

func (r *renderer) AdviseSurfaceAllocator(cookie uint64, a engine.SurfaceAllocator) error {
	e := r.e
	e.mu.Lock()
	defer e.mu.Unlock()

	if a != nil && e.opts.Fault == FaultAdvise {
		return fmt.Errorf("%w: advise", ErrInjected)
	}
	e.alloc = a
	e.cookie = cookie
	return nil
}

func (r *renderer) NotifyEvent(code engine.EventCode) {
	r.e.post(engine.Event{Code: code})
}

// Renderer implements engine.Engine.
func (e *Engine) Renderer() engine.AllocatorNotify {
	return e.renderer
}

// RenderFile implements engine.Engine.
func (e *Engine) RenderFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("enginetest: source: %w", err)
	}

	e.mu.Lock()
	alloc := e.alloc
	fault := e.opts.Fault
	e.path = path
	e.mu.Unlock()

	switch fault {
	case FaultRenderFile:
		return fmt.Errorf("%w: render file", ErrInjected)
	case FaultSkipNegotiate:
		return nil
	}
	if alloc == nil {
		return errors.New("enginetest: no allocator registered")
	}

	proposal := surface.Negotiation{
		Width:  e.opts.Width,
		Height: e.opts.Height,
		Format: e.cfg.Format,
		Count:  e.cfg.Surfaces,
	}
	if fault == FaultNegotiate {
		proposal.Width = 0
	}
	if _, err := alloc.InitializeDevice(proposal); err != nil {
		return fmt.Errorf("enginetest: negotiate: %w", err)
	}

	// Prerolled, as a real pipeline is once RenderFile returns.
	e.mu.Lock()
	e.state = engine.StatePaused
	e.mu.Unlock()
	return nil
}

// Run implements engine.Engine.
func (e *Engine) Run() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("enginetest: closed")
	}
	e.state = engine.StateRunning
	e.stopPending = 0
	e.startStreamLocked()
	return nil
}

// Pause implements engine.Engine.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("enginetest: closed")
	}
	e.state = engine.StatePaused
	e.stopStreamLocked()
	return nil
}

// Stop implements engine.Engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCalls++
	e.stopStreamLocked()
	if e.state == engine.StateStopped {
		return nil
	}
	if e.opts.NeverStops || e.opts.StopLatency > 0 {
		if e.state != engine.StateTransitioning {
			e.stopPending = e.opts.StopLatency
		}
		e.state = engine.StateTransitioning
		return nil
	}
	e.state = engine.StateStopped
	return nil
}

// State implements engine.Engine.
func (e *Engine) State() (engine.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == engine.StateTransitioning && !e.opts.NeverStops {
		if e.stopPending > 0 {
			e.stopPending--
		}
		if e.stopPending == 0 {
			e.state = engine.StateStopped
		}
	}
	return e.state, nil
}

// SeekTo implements engine.Engine.
func (e *Engine) SeekTo(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos < 0 || pos > e.opts.Duration {
		return fmt.Errorf("enginetest: seek out of range: %v", pos)
	}
	e.pos = pos
	return nil
}

// Position implements engine.Engine.
func (e *Engine) Position() (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, nil
}

// Duration implements engine.Engine.
func (e *Engine) Duration() (time.Duration, error) {
	return e.opts.Duration, nil
}

// Events implements engine.Engine.
func (e *Engine) Events() <-chan engine.Event {
	return e.events
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopStreamLocked()
	e.closed = true
	return nil
}

// --- Test controls ---

// DecodeFrame runs one streaming-thread cycle: acquire, fill, present. It returns
// the allocator's error (surface.ErrBusy when every surface is in use).
func (e *Engine) DecodeFrame() error {
	e.mu.Lock()
	alloc := e.alloc
	e.frame++
	n := e.frame
	pos := e.pos
	e.mu.Unlock()

	if alloc == nil {
		return errors.New("enginetest: no allocator registered")
	}
	s, err := alloc.GetSurface()
	if err != nil {
		return err
	}
	Fill(s, n)
	s.PTS = pos
	return alloc.PresentImage(s)
}

// Complete posts an end-of-stream event and moves the position to the end.
func (e *Engine) Complete() {
	e.mu.Lock()
	e.pos = e.opts.Duration
	e.mu.Unlock()
	e.post(engine.Event{Code: engine.EventComplete})
}

// PostError posts an asynchronous pipeline error.
func (e *Engine) PostError(err error) {
	e.post(engine.Event{Code: engine.EventError, Err: err})
}

// Renegotiate proposes a new geometry mid-stream, as a caps change would.
func (e *Engine) Renegotiate(width, height int) (surface.Negotiation, error) {
	e.mu.Lock()
	alloc := e.alloc
	e.mu.Unlock()
	if alloc == nil {
		return surface.Negotiation{}, errors.New("enginetest: no allocator registered")
	}
	return alloc.InitializeDevice(surface.Negotiation{
		Width:  width,
		Height: height,
		Format: e.cfg.Format,
		Count:  e.cfg.Surfaces,
	})
}

// Allocator returns the registered allocator, or nil once unregistered.
func (e *Engine) Allocator() engine.SurfaceAllocator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alloc
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// StopCalls returns how many times Stop was called.
func (e *Engine) StopCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls
}

// Path returns the path passed to RenderFile.
func (e *Engine) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Fill writes a recognisable pattern: every byte of the surface is byte(n).
func Fill(s *surface.Surface, n uint64) {
	b := byte(n)
	for i := range s.Pix {
		s.Pix[i] = b
	}
}

func (e *Engine) post(ev engine.Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) startStreamLocked() {
	if e.opts.FrameInterval <= 0 || e.streamCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.streamCancel = cancel
	e.streamDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.opts.FrameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = e.DecodeFrame()
			}
		}
	}()
}

func (e *Engine) stopStreamLocked() {
	if e.streamCancel == nil {
		return
	}
	e.streamCancel()
	done := e.streamDone
	e.streamCancel = nil
	e.streamDone = nil

	// DecodeFrame takes e.mu; release it while the streaming goroutine drains.
	e.mu.Unlock()
	<-done
	e.mu.Lock()
}

var _ engine.Engine = (*Engine)(nil)
