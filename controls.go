package framebridge

import (
	"context"
	"fmt"
)

// Open builds the graph for path and starts playback. On failure the graph is
// Unbuilt and the host stays idle.
func (g *Graph) Open(ctx context.Context, path string) error {
	if err := g.Build(ctx, path); err != nil {
		return err
	}
	return g.Run()
}

// TogglePlayPause runs a paused (or freshly built) graph and pauses a running one.
func (g *Graph) TogglePlayPause() error {
	switch g.State() {
	case StateRunning:
		return g.Pause()
	case StateBuilt, StatePaused:
		return g.Run()
	case StateUnbuilt:
		return ErrNotBuilt
	default:
		return fmt.Errorf("%w: toggle from %s", ErrInvalidTransition, g.State())
	}
}

// Close tears the graph down. The host calls it on file change and on exit.
func (g *Graph) Close() error {
	return g.Teardown()
}

// Tick is the render thread's per-refresh step: it drains engine events, takes
// the latest presented frame (if any), passes it to upload and releases it.
//
// Returns true if a frame was uploaded. An upload error still releases the frame.
func (g *Graph) Tick(upload func(*Surface) error) (bool, error) {
	g.ProcessEvents()

	s, ok := g.TakeIfReady()
	if !ok {
		return false, nil
	}
	defer s.Release()

	if err := upload(s); err != nil {
		return false, fmt.Errorf("framebridge: upload frame %d: %w", s.Seq, err)
	}
	g.rendered.Add(1)
	return true, nil
}
