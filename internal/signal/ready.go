// Package signal implements the frame-ready slot between the engine's presentation
// callback and the host render thread.
//
// Philosophy (same as the frame supplier mailbox): drop frames, never queue. A new
// frame replaces an unconsumed one; the consumer always sees the most recent.
package signal

import (
	"sync/atomic"

	"github.com/e7canasta/frame-bridge/internal/surface"
)

// Stats is a snapshot of slot activity.
type Stats struct {
	Published   uint64
	Taken       uint64
	Overwritten uint64 // frames replaced before the render thread took them
}

// Ready is a single-producer, single-consumer latest-wins slot.
//
// Publish and TakeIfReady never block. The slot is an atomic pointer swap, so the
// displaced surface is returned to exactly one party: the publisher (overwrite) or
// the consumer (take).
type Ready struct {
	slot   atomic.Pointer[surface.Surface]
	notify chan struct{}

	published   atomic.Uint64
	taken       atomic.Uint64
	overwritten atomic.Uint64
}

// NewReady returns an empty slot.
func NewReady() *Ready {
	return &Ready{notify: make(chan struct{}, 1)}
}

// Publish stores s as the latest frame and returns the surface it displaced, if
// the consumer had not taken it yet. The caller owns the displaced surface and
// must release it.
func (r *Ready) Publish(s *surface.Surface) *surface.Surface {
	prev := r.slot.Swap(s)
	r.published.Add(1)
	if prev != nil {
		r.overwritten.Add(1)
	}

	// Wake a waiting host; a pending wake-up already covers this frame.
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return prev
}

// TakeIfReady removes the latest frame from the slot. On success the render
// thread owns the surface read-only until it releases it.
func (r *Ready) TakeIfReady() (*surface.Surface, bool) {
	s := r.slot.Swap(nil)
	if s == nil {
		return nil, false
	}
	r.taken.Add(1)
	return s, true
}

// Reset empties the slot and returns the surface it held, if any.
func (r *Ready) Reset() *surface.Surface {
	s := r.slot.Swap(nil)
	select {
	case <-r.notify:
	default:
	}
	return s
}

// Withdraw empties the slot only if it still holds s. It reports whether s was
// removed; a consumer that already took s keeps it.
func (r *Ready) Withdraw(s *surface.Surface) bool {
	if s == nil {
		return false
	}
	return r.slot.CompareAndSwap(s, nil)
}

// Notify returns a depth-1 wake-up channel signalled on every Publish. Hosts that
// render on demand can select on it; hosts that tick per refresh can ignore it.
func (r *Ready) Notify() <-chan struct{} {
	return r.notify
}

// Stats returns a snapshot of slot counters.
func (r *Ready) Stats() Stats {
	return Stats{
		Published:   r.published.Load(),
		Taken:       r.taken.Load(),
		Overwritten: r.overwritten.Load(),
	}
}
