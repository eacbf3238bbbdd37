package surface

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrBusy is returned by Acquire when every surface is owned elsewhere.
	// The engine is expected to drop or retry the frame, never to wait.
	ErrBusy = errors.New("surface: no idle surface")

	// ErrNotNegotiated is returned by Acquire while the pool holds no surfaces
	// (before negotiation, after Free, or between device lost and restored).
	ErrNotNegotiated = errors.New("surface: pool not negotiated")

	// ErrStaleSurface is returned for surfaces from a freed allocation or another pool.
	ErrStaleSurface = errors.New("surface: stale surface")

	// ErrNotOwned is returned when a surface is moved out of a state it is not in.
	ErrNotOwned = errors.New("surface: ownership violation")
)

// generations is shared by every pool so a surface can never be mistaken for one
// of a later allocation, even across graphs.
var generations atomic.Uint64

// Stats is a snapshot of pool state.
type Stats struct {
	Allocated int
	Idle      int
	Filling   int
	Presented int

	Acquired uint64 // successful Acquire calls
	Busy     uint64 // Acquire calls that found no idle surface
	Released uint64
	Stale    uint64 // releases/presents of surfaces from a freed allocation
}

// Pool hands out surfaces in round-robin order.
//
// Thread-safety: all methods are safe for concurrent use. The engine's streaming
// thread calls Acquire/Present, the render thread calls Release.
type Pool struct {
	mu        sync.Mutex
	surfaces  []*Surface
	next      int
	gen       uint64
	neg       Negotiation
	allocated bool

	acquired uint64
	busy     uint64
	released uint64
	stale    uint64
}

// NewPool returns an empty pool. Call Allocate once the geometry is negotiated.
func NewPool() *Pool {
	return &Pool{}
}

// Allocate creates n.Count surfaces. The pool must be empty.
func (p *Pool) Allocate(n Negotiation) error {
	if err := n.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allocated {
		return fmt.Errorf("surface: pool already allocated (%s)", p.neg)
	}

	p.gen = generations.Add(1)
	p.neg = n
	p.next = 0
	p.surfaces = make([]*Surface, n.Count)
	stride := n.Stride()
	for i := range p.surfaces {
		p.surfaces[i] = &Surface{
			Index:      i,
			Generation: p.gen,
			Width:      n.Width,
			Height:     n.Height,
			Stride:     stride,
			Format:     n.Format,
			Pix:        make([]byte, n.FrameSize()),
			pool:       p,
		}
	}
	p.allocated = true

	slog.Debug("surface: pool allocated",
		"negotiation", n.String(),
		"generation", p.gen,
		"bytes", n.FrameSize()*n.Count,
	)
	return nil
}

// Free drops every surface and returns how many were held. Surfaces still in
// flight become stale: later Present/Release calls on them are ignored.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.surfaces)
	for _, s := range p.surfaces {
		s.state = idle
	}
	p.surfaces = nil
	p.allocated = false
	p.next = 0

	if n > 0 {
		slog.Debug("surface: pool freed", "surfaces", n, "generation", p.gen)
	}
	return n
}

// Acquire transfers an idle surface to the caller (the engine). It never blocks.
func (p *Pool) Acquire() (*Surface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.allocated {
		return nil, ErrNotNegotiated
	}

	n := len(p.surfaces)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		s := p.surfaces[idx]
		if s.state != idle {
			continue
		}
		s.state = filling
		p.next = (idx + 1) % n
		p.acquired++
		return s, nil
	}

	p.busy++
	return nil, ErrBusy
}

// Present marks a filled surface as ready to display. Only a surface the caller
// acquired from this allocation may be presented.
func (p *Pool) Present(s *Surface) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ownsLocked(s) {
		p.stale++
		return ErrStaleSurface
	}
	if s.state != filling {
		return fmt.Errorf("%w: present of %s surface %d", ErrNotOwned, s.state, s.Index)
	}
	s.state = presented
	return nil
}

// Release returns a surface to the idle set. Stale surfaces are counted and
// ignored; releasing an idle surface reports ErrNotOwned.
func (p *Pool) Release(s *Surface) error {
	if s == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ownsLocked(s) {
		p.stale++
		return ErrStaleSurface
	}
	if s.state == idle {
		return fmt.Errorf("%w: double release of surface %d", ErrNotOwned, s.Index)
	}
	s.state = idle
	p.released++
	return nil
}

// Owns reports whether s belongs to the pool's live allocation.
func (p *Pool) Owns(s *Surface) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownsLocked(s)
}

func (p *Pool) ownsLocked(s *Surface) bool {
	return s != nil && p.allocated && s.pool == p && s.Generation == p.gen
}

// Negotiation returns the current geometry and whether the pool is allocated.
func (p *Pool) Negotiation() (Negotiation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.neg, p.allocated
}

// Allocated returns the number of surfaces currently held by the pool.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.surfaces)
}

// Generation returns the generation of the current allocation (0 if never allocated).
func (p *Pool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Allocated: len(p.surfaces),
		Acquired:  p.acquired,
		Busy:      p.busy,
		Released:  p.released,
		Stale:     p.stale,
	}
	for _, s := range p.surfaces {
		switch s.state {
		case idle:
			st.Idle++
		case filling:
			st.Filling++
		case presented:
			st.Presented++
		}
	}
	return st
}
