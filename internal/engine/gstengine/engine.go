// Package gstengine implements the media engine on GStreamer (go-gst).
//
// Each graph build gets its own pipeline:
//
//	filesrc → decodebin ⇢ videoconvert → appsink
//
// The appsink's preroll and sample callbacks run on the GStreamer streaming
// thread and drive the surface-allocator protocol (negotiate, acquire, fill,
// present). Bus messages become engine events through a monitor goroutine.
package gstengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/frame-bridge/internal/engine"
)

// DefaultPrerollTimeout bounds how long RenderFile waits for the first frame.
const DefaultPrerollTimeout = 10 * time.Second

// Factory creates GStreamer engines.
type Factory struct {
	PrerollTimeout time.Duration
}

// NewFactory returns a factory with default settings.
func NewFactory() *Factory {
	return &Factory{PrerollTimeout: DefaultPrerollTimeout}
}

// Available implements engine.Factory. It verifies that GStreamer and every
// element the pipeline needs are installed.
func (f *Factory) Available() error {
	return checkElements()
}

// New implements engine.Factory.
func (f *Factory) New(cfg engine.Config) (engine.Engine, error) {
	if cfg.GraphID == "" {
		return nil, errors.New("gst: graph ID is required")
	}
	timeout := f.PrerollTimeout
	if timeout <= 0 {
		timeout = DefaultPrerollTimeout
	}

	e := &Engine{
		cfg:     cfg,
		timeout: timeout,
		events:  make(chan engine.Event, 64),
	}
	e.renderer = &renderer{e: e}
	return e, nil
}

// Engine is one GStreamer playback pipeline.
type Engine struct {
	cfg      engine.Config
	timeout  time.Duration
	renderer *renderer
	events   chan engine.Event

	mu       sync.Mutex
	elements *PipelineElements
	target   engine.State
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// renderer is the registration point for the surface allocator.
type renderer struct {
	e *Engine

	mu     sync.Mutex
	alloc  engine.SurfaceAllocator
	cookie uint64
}

func (r *renderer) AdviseSurfaceAllocator(cookie uint64, a engine.SurfaceAllocator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a != nil && r.alloc != nil && r.cookie != cookie {
		return fmt.Errorf("gst: allocator %#x already registered", r.cookie)
	}
	r.alloc = a
	r.cookie = cookie
	return nil
}

func (r *renderer) NotifyEvent(code engine.EventCode) {
	slog.Debug("gst: allocator event", "graph_id", r.e.cfg.GraphID, "event", code.String())
	r.e.post(engine.Event{Code: code})
}

func (r *renderer) allocator() engine.SurfaceAllocator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alloc
}

// Renderer implements engine.Engine.
func (e *Engine) Renderer() engine.AllocatorNotify {
	return e.renderer
}

// RenderFile builds the pipeline for path and prerolls it to PAUSED. Surface
// negotiation happens in the preroll callback, before this returns.
func (e *Engine) RenderFile(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("gst: engine closed")
	}
	if e.elements != nil {
		return errors.New("gst: source already rendered")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("gst: resolve path: %w", err)
	}

	elements, err := CreatePipeline(PipelineConfig{
		Name:   "framebridge-" + e.cfg.GraphID,
		Path:   abs,
		Format: e.cfg.Format,
	})
	if err != nil {
		return fmt.Errorf("gst: %w", err)
	}

	callbackCtx := &CallbackContext{
		Allocator: e.renderer.allocator,
		Format:    e.cfg.Format,
		Surfaces:  e.cfg.Surfaces,
		Frames:    &e.frames,
		Dropped:   &e.dropped,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewPrerollFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnSample(sink.PullPreroll(), callbackCtx)
		},
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnSample(sink.PullSample(), callbackCtx)
		},
	})

	converter := elements.Converter
	elements.Decoder.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		OnPadAdded(srcPad, converter)
	})

	if err := elements.Pipeline.SetState(gst.StatePaused); err != nil {
		_ = DestroyPipeline(elements)
		return fmt.Errorf("gst: failed to preroll pipeline: %w", err)
	}
	if err := waitPreroll(ctx, elements.Pipeline, e.timeout); err != nil {
		_ = DestroyPipeline(elements)
		return fmt.Errorf("gst: %w", err)
	}

	e.elements = elements
	e.target = engine.StatePaused

	monitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	go func() {
		defer close(done)
		monitorBus(monitorCtx, elements.Pipeline, e.cfg.GraphID, e.post)
	}()

	slog.Info("gst: source prerolled", "graph_id", e.cfg.GraphID, "path", abs)
	return nil
}

// Run implements engine.Engine.
func (e *Engine) Run() error {
	return e.setState(gst.StatePlaying, engine.StateRunning)
}

// Pause implements engine.Engine.
func (e *Engine) Pause() error {
	return e.setState(gst.StatePaused, engine.StatePaused)
}

// Stop implements engine.Engine. READY deactivates the pads and joins the
// streaming thread; State reports transitioning until that has happened.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.target = engine.StateStopped
	if e.elements == nil {
		return nil
	}
	if err := e.elements.Pipeline.SetState(gst.StateReady); err != nil {
		return fmt.Errorf("gst: failed to stop pipeline: %w", err)
	}
	return nil
}

func (e *Engine) setState(s gst.State, target engine.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.elements == nil {
		return errors.New("gst: no source rendered")
	}
	if err := e.elements.Pipeline.SetState(s); err != nil {
		return fmt.Errorf("gst: failed to set pipeline to %s: %w", s, err)
	}
	e.target = target
	return nil
}

// State implements engine.Engine.
func (e *Engine) State() (engine.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.elements == nil {
		return engine.StateStopped, nil
	}
	current := mapState(e.elements.Pipeline.GetState())
	if current != e.target {
		return engine.StateTransitioning, nil
	}
	return current, nil
}

// SeekTo implements engine.Engine. Flushing key-unit seek.
func (e *Engine) SeekTo(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.elements == nil {
		return errors.New("gst: no source rendered")
	}
	seek := gst.NewSeekEvent(1.0, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit,
		gst.SeekTypeSet, int64(pos), gst.SeekTypeNone, -1)
	if ok := e.elements.Pipeline.SendEvent(seek); !ok {
		return fmt.Errorf("gst: seek to %v failed", pos)
	}
	return nil
}

// Position implements engine.Engine.
func (e *Engine) Position() (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.elements == nil {
		return 0, errors.New("gst: no source rendered")
	}
	ok, pos := e.elements.Pipeline.QueryPosition(gst.FormatTime)
	if !ok {
		return 0, errors.New("gst: position query failed")
	}
	return time.Duration(pos), nil
}

// Duration implements engine.Engine.
func (e *Engine) Duration() (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.elements == nil {
		return 0, errors.New("gst: no source rendered")
	}
	ok, dur := e.elements.Pipeline.QueryDuration(gst.FormatTime)
	if !ok {
		return 0, errors.New("gst: duration query failed")
	}
	return time.Duration(dur), nil
}

// Events implements engine.Engine.
func (e *Engine) Events() <-chan engine.Event {
	return e.events
}

// DumpGraph implements engine.GraphDumper: it writes the pipeline topology as a
// Graphviz DOT file.
func (e *Engine) DumpGraph(dir, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.elements == nil {
		return "", errors.New("gst: no source rendered")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("gst: create dump directory: %w", err)
	}

	data := e.elements.Pipeline.DebugBinToDotData(gst.DebugGraphShowAll)
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.dot", name, e.cfg.GraphID))
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return "", fmt.Errorf("gst: write dump: %w", err)
	}

	slog.Info("gst: pipeline topology dumped", "graph_id", e.cfg.GraphID, "path", path)
	return path, nil
}

// Close implements engine.Engine. It stops the bus monitor and sets the
// pipeline to NULL. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.cancel = nil
	}

	var err error
	if e.elements != nil {
		err = DestroyPipeline(e.elements)
		e.elements = nil
	}

	slog.Debug("gst: engine closed",
		"graph_id", e.cfg.GraphID,
		"frames_presented", e.frames.Load(),
		"frames_dropped", e.dropped.Load(),
	)
	return err
}

func (e *Engine) post(ev engine.Event) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("gst: event queue full, dropping event", "graph_id", e.cfg.GraphID, "event", ev.Code.String())
	}
}

var (
	_ engine.Factory     = (*Factory)(nil)
	_ engine.Engine      = (*Engine)(nil)
	_ engine.GraphDumper = (*Engine)(nil)
)
