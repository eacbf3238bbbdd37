// Package allocator implements the surface-allocator plugin the media engine calls
// back into, and the registration handshake that installs it.
package allocator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/frame-bridge/internal/engine"
	"github.com/e7canasta/frame-bridge/internal/signal"
	"github.com/e7canasta/frame-bridge/internal/surface"
)

// ErrHandshake is wrapped by every Attach failure.
var ErrHandshake = errors.New("allocator: handshake failed")

// WindowHandle identifies the host window the surfaces are destined for.
type WindowHandle uintptr

// Config bounds the surface count the engine may negotiate.
type Config struct {
	MinSurfaces int
	MaxSurfaces int
}

// DefaultConfig returns the default surface bounds.
func DefaultConfig() Config {
	return Config{MinSurfaces: 2, MaxSurfaces: 4}
}

// Stats is a snapshot of bridge activity.
type Stats struct {
	Presented uint64
	Dropped   uint64 // surfaces the engine handed back without presenting
	Lost      uint64 // device-lost events handled
	Restored  uint64
}

// Bridge registers the surface pool with the engine's renderer and implements
// engine.SurfaceAllocator on top of it.
//
// Thread model:
//   - GetSurface/PresentImage/ReleaseSurface run on the engine streaming thread and
//     only touch the pool and the ready slot (both lock-light, non-blocking).
//   - Attach/Detach/OnDeviceLost/OnDeviceRestored run on the controlling or render
//     thread; InitializeDevice/TerminateDevice run on the streaming thread. These
//     serialize on mu.
type Bridge struct {
	pool   *surface.Pool
	ready  *signal.Ready
	cfg    Config
	cookie uint64

	mu         sync.Mutex
	notify     engine.AllocatorNotify
	window     WindowHandle
	last       surface.Negotiation
	negotiated bool
	lost       bool

	seq       atomic.Uint64
	presented atomic.Uint64
	dropped   atomic.Uint64
	lostCount atomic.Uint64
	restored  atomic.Uint64
}

// New returns a bridge over pool and ready. cookie identifies this allocator in
// the renderer's registration table.
func New(pool *surface.Pool, ready *signal.Ready, cfg Config, cookie uint64) *Bridge {
	if cfg.MinSurfaces <= 0 {
		cfg.MinSurfaces = DefaultConfig().MinSurfaces
	}
	if cfg.MaxSurfaces < cfg.MinSurfaces {
		cfg.MaxSurfaces = cfg.MinSurfaces
	}
	return &Bridge{pool: pool, ready: ready, cfg: cfg, cookie: cookie}
}

// Attach performs the two-way handshake: the bridge registers itself with the
// renderer, then takes the renderer's notify sink. If the second half fails the
// first is undone, so a failed Attach leaves no registration behind.
func (b *Bridge) Attach(renderer engine.AllocatorNotify, window WindowHandle) error {
	if renderer == nil {
		return fmt.Errorf("%w: renderer has no allocator notify interface", ErrHandshake)
	}

	if err := renderer.AdviseSurfaceAllocator(b.cookie, b); err != nil {
		return fmt.Errorf("%w: advise surface allocator: %w", ErrHandshake, err)
	}

	if err := b.AdviseNotify(renderer); err != nil {
		if undoErr := renderer.AdviseSurfaceAllocator(b.cookie, nil); undoErr != nil {
			slog.Warn("allocator: failed to unregister after handshake failure", "error", undoErr)
		}
		return fmt.Errorf("%w: advise notify: %w", ErrHandshake, err)
	}

	b.mu.Lock()
	b.window = window
	b.mu.Unlock()

	slog.Debug("allocator: handshake complete",
		"cookie", fmt.Sprintf("%#x", b.cookie),
		"window", uintptr(window),
	)
	return nil
}

// Detach unregisters the bridge and frees every surface. Safe to call more than once.
func (b *Bridge) Detach() {
	b.mu.Lock()
	notify := b.notify
	b.notify = nil
	b.freeLocked()
	b.negotiated = false
	b.lost = false
	b.mu.Unlock()

	if notify == nil {
		return
	}
	if err := notify.AdviseSurfaceAllocator(b.cookie, nil); err != nil {
		slog.Warn("allocator: unregister failed", "error", err)
	}
	slog.Debug("allocator: detached", "cookie", fmt.Sprintf("%#x", b.cookie))
}

// AdviseNotify implements engine.SurfaceAllocator.
func (b *Bridge) AdviseNotify(n engine.AllocatorNotify) error {
	if n == nil {
		return errors.New("nil notify sink")
	}
	b.mu.Lock()
	b.notify = n
	b.mu.Unlock()
	return nil
}

// InitializeDevice implements engine.SurfaceAllocator. A proposal with the same
// geometry as the live allocation is accepted as-is; a different geometry is a
// mid-stream renegotiation and is handled as device lost followed by restored,
// all before this call returns to the engine.
func (b *Bridge) InitializeDevice(proposed surface.Negotiation) (surface.Negotiation, error) {
	n := proposed
	n.Count = b.clampCount(proposed.Count)
	if err := n.Validate(); err != nil {
		return surface.Negotiation{}, err
	}

	b.mu.Lock()
	cur, allocated := b.pool.Negotiation()
	if allocated && cur.SameGeometry(n) {
		b.mu.Unlock()
		return cur, nil
	}

	renegotiate := allocated
	if renegotiate {
		slog.Info("allocator: surface geometry changed, renegotiating",
			"from", cur.String(),
			"to", n.String(),
		)
		b.freeLocked()
		b.lostCount.Add(1)
	}

	if err := b.pool.Allocate(n); err != nil {
		b.negotiated = false
		b.mu.Unlock()
		return surface.Negotiation{}, fmt.Errorf("allocator: allocate surfaces: %w", err)
	}
	b.last = n
	b.negotiated = true
	b.lost = false
	notify := b.notify
	b.mu.Unlock()

	if renegotiate {
		b.restored.Add(1)
		if notify != nil {
			notify.NotifyEvent(engine.EventDeviceRestored)
		}
	}

	slog.Info("allocator: surfaces negotiated", "negotiation", n.String())
	return n, nil
}

// TerminateDevice implements engine.SurfaceAllocator.
func (b *Bridge) TerminateDevice() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freeLocked()
	b.negotiated = false
}

// GetSurface implements engine.SurfaceAllocator. It never blocks: with no idle
// surface the engine gets surface.ErrBusy and drops the frame.
func (b *Bridge) GetSurface() (*surface.Surface, error) {
	return b.pool.Acquire()
}

// PresentImage implements engine.SurfaceAllocator. The surface becomes the latest
// ready frame; a frame it displaces goes straight back to the pool.
func (b *Bridge) PresentImage(s *surface.Surface) error {
	if s == nil {
		return errors.New("allocator: present of nil surface")
	}
	if err := b.pool.Present(s); err != nil {
		return err
	}
	s.Seq = b.seq.Add(1)
	if !b.publish(s) {
		return surface.ErrStaleSurface
	}
	b.presented.Add(1)
	return nil
}

// publish makes s the ready frame. If a device loss freed s's allocation after
// Present, s is withdrawn from the slot again and publish reports false.
func (b *Bridge) publish(s *surface.Surface) bool {
	if displaced := b.ready.Publish(s); displaced != nil {
		displaced.Release()
	}
	if b.pool.Owns(s) {
		return true
	}
	b.ready.Withdraw(s)
	return false
}

// ReleaseSurface implements engine.SurfaceAllocator.
func (b *Bridge) ReleaseSurface(s *surface.Surface) {
	if s == nil {
		return
	}
	s.Release()
	b.dropped.Add(1)
}

// OnDeviceLost frees every surface and drops the pending ready frame. Until
// OnDeviceRestored completes, GetSurface reports surface.ErrNotNegotiated.
func (b *Bridge) OnDeviceLost() {
	b.mu.Lock()
	if !b.negotiated || b.lost {
		b.mu.Unlock()
		return
	}
	b.freeLocked()
	b.lost = true
	notify := b.notify
	b.mu.Unlock()

	b.lostCount.Add(1)
	slog.Warn("allocator: device lost, surfaces released")
	if notify != nil {
		notify.NotifyEvent(engine.EventDeviceLost)
	}
}

// OnDeviceRestored re-runs the last negotiation and tells the engine it may
// resume presenting.
func (b *Bridge) OnDeviceRestored() error {
	b.mu.Lock()
	if !b.lost {
		b.mu.Unlock()
		return nil
	}
	if err := b.pool.Allocate(b.last); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("allocator: renegotiate %s: %w", b.last, err)
	}
	b.lost = false
	notify := b.notify
	n := b.last
	b.mu.Unlock()

	b.restored.Add(1)
	slog.Info("allocator: device restored", "negotiation", n.String())
	if notify != nil {
		notify.NotifyEvent(engine.EventDeviceRestored)
	}
	return nil
}

// Negotiation returns the live negotiation, if any.
func (b *Bridge) Negotiation() (surface.Negotiation, bool) {
	return b.pool.Negotiation()
}

// Lost reports whether the bridge is between device lost and restored.
func (b *Bridge) Lost() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Presented: b.presented.Load(),
		Dropped:   b.dropped.Load(),
		Lost:      b.lostCount.Load(),
		Restored:  b.restored.Load(),
	}
}

// freeLocked drops the ready frame and the whole allocation. b.mu must be held.
func (b *Bridge) freeLocked() {
	// The pending frame belongs to the allocation being freed; no release needed.
	b.ready.Reset()
	b.pool.Free()
}

func (b *Bridge) clampCount(n int) int {
	if n < b.cfg.MinSurfaces {
		return b.cfg.MinSurfaces
	}
	if n > b.cfg.MaxSurfaces {
		return b.cfg.MaxSurfaces
	}
	return n
}

var _ engine.SurfaceAllocator = (*Bridge)(nil)
