// Package framebridge plays a video file through an external media engine and hands
// its decoded frames to a GPU-accelerated host window.
//
// The engine (GStreamer, see internal/engine/gstengine) owns decode, demux and timing.
// The host owns the window and the GPU device. Between them sits a surface
// allocator that the engine calls back into on its own streaming thread: it hands
// out writable surfaces, takes them back once filled and publishes the newest one
// for the render thread.
//
// # Quick Start
//
//	factory := gstengine.NewFactory()
//	graph, err := framebridge.NewGraph(factory, framebridge.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err) // errors.Is(err, framebridge.ErrEnvironmentUnsupported)
//	}
//	defer graph.Close()
//
//	if err := graph.Open(ctx, "clip.mp4"); err != nil {
//	    log.Printf("open failed: %v", err) // *framebridge.BuildError
//	}
//
//	// Render loop, once per display refresh
//	for running {
//	    graph.Tick(func(s *framebridge.Surface) error {
//	        return uploadToTexture(s.Pix, s.Stride)
//	    })
//	    draw()
//	}
//
// # Surface Ownership
//
// Every surface is owned by exactly one party at a time:
//
//	Idle (pool) --GetSurface--> Filling (engine) --PresentImage--> Presented (ready slot / render thread)
//	Presented --Release--> Idle
//
// Acquisition never blocks the engine: when every surface is in use the frame is
// dropped. The ready slot holds one frame; a newer frame replaces an unconsumed
// one and the displaced surface returns to the pool (latest wins, never a queue).
//
// Every build allocates a fresh pool with a new generation number. Surfaces of an
// earlier build that are still in flight are recognised as stale and ignored.
//
// # Graph Lifecycle
//
//	Unbuilt --Build--> Built --Run--> Running <--Pause/Run--> Paused
//	Running/Paused --Stop--> Stopped --Teardown--> Unbuilt
//
// Build runs five steps (engine, probe, allocator, source, negotiate). A failure
// at any step undoes the earlier ones in reverse order and leaves the graph
// Unbuilt. Teardown always confirms the engine has stopped before surfaces are
// released, polling with a bounded exponential back-off (Config.Stop).
//
// When the stream ends while Running, the graph seeks back to the start and keeps
// playing (loop-to-start). Events are drained by Tick.
//
// # Device Loss
//
// When the host loses its rendering device it calls DeviceLost; all surfaces are
// freed and the engine drops frames. DeviceRestored re-runs the last negotiation.
// A mid-stream geometry change from the engine is handled the same way.
//
// # Errors
//
//   - ErrEnvironmentUnsupported: fatal; engine or renderer capability missing.
//   - ErrBuildFailure (*BuildError): recoverable; retry with another file.
//   - ErrAllocatorHandshake: build failure at the allocator step.
//   - ErrDeviceLost: surfaces could not be recreated.
//   - ErrStopTimeout: the engine did not confirm the stop; teardown proceeded.
//   - ErrInvalidTransition, ErrNotBuilt: transport misuse.
//
// # Thread Safety
//
// Graph methods are safe for concurrent use. Transport calls (Build, Run, Pause,
// Stop, Teardown) are expected from one controlling goroutine; Tick from the
// render goroutine.
package framebridge
